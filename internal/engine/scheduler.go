package engine

import (
	"context"
	"sync"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ProcessPendingOrders evaluates all non-terminal conditional orders, oldest
// first. Expired orders are swept first; the rest are dispatched to the
// executor matching their type. One order's failure never aborts the batch.
func (e *Engine) ProcessPendingOrders(ctx context.Context, maxConcurrent int64) error {
	orders, err := e.store.GetPendingOrders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup

	for i := range orders {
		order := orders[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.evaluatePendingOrder(ctx, &order)
		}()
	}

	wg.Wait()
	return nil
}

func (e *Engine) evaluatePendingOrder(ctx context.Context, order *models.Order) {
	log := e.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"type":     order.Type,
	})

	if order.ExpiresAt != nil && time.Now().After(*order.ExpiresAt) {
		if _, err := e.transition(ctx, order, models.OrderStatusExpired, "time in force expired"); err != nil {
			log.WithError(err).Error("Failed to expire order")
		}
		return
	}

	var err error
	switch order.Type {
	case models.OrderTypeLimit:
		_, err = e.ExecuteLimitOrder(ctx, order)
	case models.OrderTypeStopLoss:
		_, err = e.ExecuteStopLossOrder(ctx, order)
	case models.OrderTypeTakeProfit:
		_, err = e.ExecuteTakeProfitOrder(ctx, order)
	case models.OrderTypeTrailingStop:
		// No trigger semantics defined yet; left pending.
		log.Debug("Trailing-stop evaluation not supported, skipping")
	case models.OrderTypeMarket:
		// Market orders execute at creation; one in the pending queue means
		// a crashed request path. Leave it for inspection.
		log.Warn("Market order found in pending queue, skipping")
	default:
		log.Warn("Unknown order type in pending queue, skipping")
	}
	if err != nil {
		log.WithError(err).Error("Pending order evaluation failed")
	}
}

// Scheduler re-evaluates pending conditional orders on a fixed interval.
// Passes run serially: a tick is consumed only after the previous pass has
// finished or timed out, so the same order set is never evaluated twice
// concurrently.
type Scheduler struct {
	engine        *Engine
	interval      time.Duration
	passTimeout   time.Duration
	maxConcurrent int64
	logger        *logrus.Logger
}

// NewScheduler creates a pending-order scheduler
func NewScheduler(engine *Engine, interval, passTimeout time.Duration, maxConcurrent int64, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if passTimeout <= 0 {
		passTimeout = interval
	}
	return &Scheduler{
		engine:        engine,
		interval:      interval,
		passTimeout:   passTimeout,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Run blocks until the context is cancelled, executing one evaluation pass
// per tick. A failed pass is logged and never stops subsequent runs.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithField("interval", s.interval).Info("Pending-order scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Pending-order scheduler stopped")
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	start := time.Now()
	if err := s.engine.ProcessPendingOrders(passCtx, s.maxConcurrent); err != nil {
		s.logger.WithError(err).Error("Scheduler pass failed")
		return
	}
	s.logger.WithField("elapsed", time.Since(start)).Debug("Scheduler pass complete")
}
