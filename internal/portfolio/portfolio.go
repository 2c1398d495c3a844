// Package portfolio maintains per-user position state with
// weighted-average-cost accounting.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Store is the slice of the durable store the portfolio manager needs.
// CommitTradeApplication must claim the trade id and write the position
// atomically: a failed write leaves the trade unclaimed and retryable.
type Store interface {
	GetPosition(ctx context.Context, userID int, mint string) (*models.Position, error)
	CommitTradeApplication(ctx context.Context, tradeID string, pos *models.Position) (bool, error)
}

// Manager applies settled trades to positions. Updates for a given user are
// serialized because weighted-average-cost recomputation is not commutative
// across concurrent trades on the same asset.
type Manager struct {
	store  Store
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// NewManager creates a portfolio manager
func NewManager(store Store, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		locks:  make(map[int]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID int) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// ApplyTrade updates the user's position for the trade's held asset. A trade
// id is applied at most once; replays are detected and skipped. The new
// position is computed first and committed together with the applied claim,
// so a failed write leaves the trade unclaimed and a retry can apply it.
//
// BUY: out amount of the output mint is acquired at the trade price, so size
// and invested capital grow and the average price is re-weighted.
// SELL: in amount of the input mint is disposed at the trade price, realizing
// P&L of (price - avgPrice) * soldSize against the existing cost basis.
func (m *Manager) ApplyTrade(ctx context.Context, trade *models.Trade) error {
	lock := m.userLock(trade.UserID)
	lock.Lock()
	defer lock.Unlock()

	var (
		pos *models.Position
		err error
	)
	switch trade.Side {
	case models.OrderSideBuy:
		pos, err = m.applyBuy(ctx, trade)
	case models.OrderSideSell:
		pos, err = m.applySell(ctx, trade)
	default:
		return fmt.Errorf("unknown trade side %q", trade.Side)
	}
	if err != nil {
		return err
	}

	committed, err := m.store.CommitTradeApplication(ctx, trade.ID, pos)
	if err != nil {
		return fmt.Errorf("failed to apply trade: %w", err)
	}
	if !committed {
		m.logger.WithField("trade_id", trade.ID).Warn("Trade already applied, skipping")
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"user_id":      trade.UserID,
		"mint":         pos.Mint,
		"size":         pos.Size,
		"avg_price":    pos.AvgPrice,
		"realized_pnl": pos.RealizedPnL,
	}).Info("Position updated")
	return nil
}

func (m *Manager) applyBuy(ctx context.Context, trade *models.Trade) (*models.Position, error) {
	pos, err := m.store.GetPosition(ctx, trade.UserID, trade.OutputMint)
	if err != nil {
		return nil, err
	}

	qty := trade.OutAmount
	cost := qty.Mul(trade.Price)
	newSize := pos.Size.Add(qty)

	// newAvg = (oldSize*oldAvg + qty*price) / newSize
	pos.AvgPrice = pos.Size.Mul(pos.AvgPrice).Add(cost).Div(newSize)
	pos.Size = newSize
	pos.Invested = pos.Invested.Add(cost)
	pos.UpdatedAt = time.Now()
	return pos, nil
}

func (m *Manager) applySell(ctx context.Context, trade *models.Trade) (*models.Position, error) {
	pos, err := m.store.GetPosition(ctx, trade.UserID, trade.InputMint)
	if err != nil {
		return nil, err
	}

	sold := trade.InAmount
	if sold.GreaterThan(pos.Size) {
		// Spot holdings never go negative; clamp to what is actually held.
		m.logger.WithFields(logrus.Fields{
			"user_id": trade.UserID,
			"mint":    trade.InputMint,
			"size":    pos.Size,
			"sold":    sold,
		}).Warn("Sell exceeds tracked position, clamping")
		sold = pos.Size
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(trade.Price.Sub(pos.AvgPrice).Mul(sold))
	if pos.Size.IsPositive() {
		// Invested capital shrinks in proportion to the size sold; the
		// average price of the remainder is unchanged.
		pos.Invested = pos.Invested.Sub(pos.Invested.Mul(sold).Div(pos.Size))
	}
	pos.Size = pos.Size.Sub(sold)
	if pos.Size.IsZero() {
		pos.Invested = decimal.Zero
	}
	pos.UpdatedAt = time.Now()
	return pos, nil
}
