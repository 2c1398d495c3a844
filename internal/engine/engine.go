// Package engine turns a user's trading intent into an executed trade: it
// risk-gates orders, checks price and slippage conditions, submits swaps,
// records trades, and drives the order lifecycle state machine.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/solwerk/tradecore/internal/models"
	"github.com/solwerk/tradecore/internal/risk"
	"github.com/solwerk/tradecore/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Store is the slice of the durable store the engine drives. Every status
// write is a conditional transition keyed by the expected current status.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int, status models.OrderStatus) ([]models.Order, error)
	GetPendingOrders(ctx context.Context) ([]models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID string, expected, next models.OrderStatus, reason string) (bool, error)
	CancelOrder(ctx context.Context, orderID string, userID int) (bool, error)
	InsertTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error)
}

// RiskValidator gates orders before any execution attempt
type RiskValidator interface {
	ValidateOrder(ctx context.Context, order *models.Order) (risk.Result, error)
}

// PortfolioUpdater applies settled trades to position state
type PortfolioUpdater interface {
	ApplyTrade(ctx context.Context, trade *models.Trade) error
}

// TradePublisher receives settled trades for downstream fan-out. Optional.
type TradePublisher interface {
	PublishTrade(trade *models.Trade)
}

// Engine is the order execution service
type Engine struct {
	store     Store
	quotes    venue.QuoteProvider
	swaps     venue.SwapExecutor
	risk      RiskValidator
	portfolio PortfolioUpdater
	publisher TradePublisher
	logger    *logrus.Logger
}

// NewEngine wires the execution service with its collaborators. publisher
// may be nil.
func NewEngine(store Store, quotes venue.QuoteProvider, swaps venue.SwapExecutor,
	riskMgr RiskValidator, portfolio PortfolioUpdater, publisher TradePublisher,
	logger *logrus.Logger) *Engine {
	return &Engine{
		store:     store,
		quotes:    quotes,
		swaps:     swaps,
		risk:      riskMgr,
		portfolio: portfolio,
		publisher: publisher,
		logger:    logger,
	}
}

// OrderIntent is the validated shape of an order creation request
type OrderIntent struct {
	UserID            int
	Wallet            string
	Type              models.OrderType
	Side              models.OrderSide
	InputMint         string
	OutputMint        string
	Amount            decimal.Decimal
	LimitPrice        *decimal.Decimal
	StopPrice         *decimal.Decimal
	TakeProfitPrice   *decimal.Decimal
	SlippageTolerance decimal.Decimal
	TimeInForce       models.TimeInForce
	ExpiresAt         *time.Time
	StrategyID        *string
}

// CreateOrder persists a new PENDING order. Market orders execute
// synchronously and the resulting trade is returned; conditional orders are
// left for the scheduler. A nil trade with a non-PENDING order status means
// the execution attempt failed; the order's failure reason says why.
func (e *Engine) CreateOrder(ctx context.Context, intent OrderIntent) (*models.Order, *models.Trade, error) {
	order := &models.Order{
		ID:                uuid.NewString(),
		UserID:            intent.UserID,
		Wallet:            intent.Wallet,
		Type:              intent.Type,
		Side:              intent.Side,
		Status:            models.OrderStatusPending,
		InputMint:         intent.InputMint,
		OutputMint:        intent.OutputMint,
		Amount:            intent.Amount,
		LimitPrice:        intent.LimitPrice,
		StopPrice:         intent.StopPrice,
		TakeProfitPrice:   intent.TakeProfitPrice,
		SlippageTolerance: intent.SlippageTolerance,
		TimeInForce:       intent.TimeInForce,
		ExpiresAt:         intent.ExpiresAt,
		StrategyID:        intent.StrategyID,
	}
	if order.TimeInForce == "" {
		order.TimeInForce = models.TimeInForceGTC
	}
	if err := order.Validate(); err != nil {
		return nil, nil, err
	}

	// Snapshot the live price at creation; it is the slippage reference for
	// orders without a limit price.
	price, err := e.quotes.GetCurrentPrice(ctx, order.InputMint, order.OutputMint)
	if err != nil {
		if order.Type == models.OrderTypeMarket && order.LimitPrice == nil {
			return nil, nil, fmt.Errorf("no reference price for pair: %w", err)
		}
		e.logger.WithError(err).WithField("order_id", order.ID).
			Warn("Market price unavailable at creation")
	} else {
		order.MarketPrice = price
	}

	created, err := e.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}

	if created.Type != models.OrderTypeMarket {
		return created, nil, nil
	}

	trade, err := e.ExecuteMarketOrder(ctx, created)
	if err != nil {
		return created, nil, err
	}
	return created, trade, nil
}

// transition performs the conditional status update and keeps the in-memory
// order in sync with what was committed.
func (e *Engine) transition(ctx context.Context, order *models.Order, next models.OrderStatus, reason string) (bool, error) {
	committed, err := e.store.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, next, reason)
	if err != nil {
		return false, err
	}
	if committed {
		order.Status = next
		order.FailureReason = reason
		order.UpdatedAt = time.Now()
	} else {
		e.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"next":     next,
		}).Warn("Status transition lost race, aborting")
	}
	return committed, nil
}

// ExecuteMarketOrder runs one execution attempt: risk gate, quote, slippage
// check, swap, trade record, portfolio update, FILLED transition. Failures
// surface as the order's terminal status and failure reason, not as a
// returned error; only store failures propagate.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, order *models.Order) (trade *models.Trade, err error) {
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("execution panic: %v", r)
			}
		}()
		trade, execErr = e.executeMarket(ctx, order)
	}()
	if execErr != nil {
		// Transient or unexpected failure: market orders are not retried.
		if _, err := e.transition(ctx, order, models.OrderStatusFailed, execErr.Error()); err != nil {
			return nil, err
		}
		e.logger.WithError(execErr).WithField("order_id", order.ID).Error("Order execution failed")
		return nil, nil
	}
	return trade, nil
}

func (e *Engine) executeMarket(ctx context.Context, order *models.Order) (*models.Trade, error) {
	// A cancel may have committed since the order was fetched. This check
	// narrows the window but does not close it; the FILLED transition below
	// is the authoritative resolution.
	if current, err := e.store.GetOrder(ctx, order.ID); err == nil &&
		current.Status != models.OrderStatusPending {
		e.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   current.Status,
		}).Debug("Order no longer pending, skipping execution")
		return nil, nil
	}

	// 1. Risk gate
	result, err := e.risk.ValidateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("risk validation error: %w", err)
	}
	if !result.OK {
		if _, err := e.transition(ctx, order, models.OrderStatusRejected, result.Reason); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// 2. Quote
	quote, err := e.quotes.GetQuote(ctx, order.InputMint, order.OutputMint, order.Amount)
	if err != nil {
		return nil, fmt.Errorf("no quote: %w", err)
	}

	// 3. Slippage gate against the reference price. Boundary-equal slippage
	// is accepted; only strictly above the tolerance rejects.
	reference := order.ReferencePrice()
	if reference.IsPositive() {
		slippage := quote.Price.Sub(reference).Abs().Div(reference)
		if slippage.GreaterThan(order.SlippageTolerance) {
			reason := fmt.Sprintf("slippage %s%% exceeds tolerance %s%%",
				slippage.Mul(decimal.NewFromInt(100)).StringFixed(2),
				order.SlippageTolerance.Mul(decimal.NewFromInt(100)).StringFixed(2))
			if _, err := e.transition(ctx, order, models.OrderStatusRejected, reason); err != nil {
				return nil, err
			}
			return nil, nil
		}
	} else {
		e.logger.WithField("order_id", order.ID).Warn("No reference price, skipping slippage gate")
	}

	// 4. Swap
	swapResult, err := e.swaps.ExecuteSwap(ctx, quote, order.Wallet, order.SlippageTolerance)
	if err != nil {
		return nil, fmt.Errorf("swap submission: %w", err)
	}
	if !swapResult.Success {
		return nil, fmt.Errorf("swap failed: %s", swapResult.Err)
	}

	// 5. Record the trade. The id is generated fresh, never derived from the
	// quote, so venue-side retries cannot collide.
	trade := &models.Trade{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		UserID:           order.UserID,
		InputMint:        order.InputMint,
		OutputMint:       order.OutputMint,
		InAmount:         quote.InAmount,
		OutAmount:        quote.OutAmount,
		Price:            quote.Price,
		Side:             order.Side,
		Signature:        swapResult.Signature,
		Status:           models.TradeStatusConfirmed,
		Fee:              swapResult.Fee,
		RealizedSlippage: swapResult.RealizedSlippage,
		ExecutedAt:       time.Now(),
	}
	recorded, err := e.store.InsertTrade(ctx, trade)
	if err != nil {
		// The swap has settled on chain; a store failure here must surface
		// loudly rather than be folded into a FAILED status.
		return nil, fmt.Errorf("failed to record settled trade %s: %w", swapResult.Signature, err)
	}

	// 6. Portfolio update. The trade is durable at this point, so a failure
	// here is logged and reconciled later instead of failing the order.
	if err := e.portfolio.ApplyTrade(ctx, recorded); err != nil {
		e.logger.WithError(err).WithField("trade_id", recorded.ID).
			Error("Portfolio update failed for settled trade")
	}

	// 7. Fill. A lost race here means a cancel committed between settlement
	// and this transition; the swap is already on chain, so the trade and
	// portfolio update stand, but the caller sees no fill.
	committed, err := e.transition(ctx, order, models.OrderStatusFilled, "")
	if err != nil {
		return nil, err
	}
	if !committed {
		e.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"trade_id": recorded.ID,
		}).Error("Order left pending state during execution, trade recorded for reconciliation")
		return nil, nil
	}

	if e.publisher != nil {
		e.publisher.PublishTrade(recorded)
	}

	e.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"trade_id":  recorded.ID,
		"signature": recorded.Signature,
		"price":     recorded.Price,
	}).Info("Order filled")

	// 8. Return the trade
	return recorded, nil
}

// ExecuteLimitOrder evaluates a limit order against the live price and
// delegates to market execution when triggered: BUY at or below the limit,
// SELL at or above it. An unavailable price is a no-op; the order stays
// PENDING for the next tick.
func (e *Engine) ExecuteLimitOrder(ctx context.Context, order *models.Order) (*models.Trade, error) {
	price, err := e.quotes.GetCurrentPrice(ctx, order.InputMint, order.OutputMint)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).
			Debug("Price unavailable, leaving limit order pending")
		return nil, nil
	}

	limit := order.LimitPrice
	if limit == nil {
		return nil, fmt.Errorf("limit order %s has no limit price", order.ID)
	}

	triggered := (order.Side == models.OrderSideBuy && price.LessThanOrEqual(*limit)) ||
		(order.Side == models.OrderSideSell && price.GreaterThanOrEqual(*limit))
	if !triggered {
		return nil, nil
	}
	return e.ExecuteMarketOrder(ctx, order)
}

// ExecuteStopLossOrder triggers on the SELL side when the live price falls
// to or below the stop price, then executes immediately at market to cap
// further loss. A BUY-side stop never triggers.
func (e *Engine) ExecuteStopLossOrder(ctx context.Context, order *models.Order) (*models.Trade, error) {
	if order.Side != models.OrderSideSell {
		return nil, nil
	}

	price, err := e.quotes.GetCurrentPrice(ctx, order.InputMint, order.OutputMint)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).
			Debug("Price unavailable, leaving stop-loss order pending")
		return nil, nil
	}

	stop := order.StopPrice
	if stop == nil {
		return nil, fmt.Errorf("stop-loss order %s has no stop price", order.ID)
	}
	if price.GreaterThan(*stop) {
		return nil, nil
	}
	return e.ExecuteMarketOrder(ctx, order)
}

// ExecuteTakeProfitOrder triggers on the SELL side when the live price rises
// to or above the take-profit price.
func (e *Engine) ExecuteTakeProfitOrder(ctx context.Context, order *models.Order) (*models.Trade, error) {
	if order.Side != models.OrderSideSell {
		return nil, nil
	}

	price, err := e.quotes.GetCurrentPrice(ctx, order.InputMint, order.OutputMint)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).
			Debug("Price unavailable, leaving take-profit order pending")
		return nil, nil
	}

	target := order.TakeProfitPrice
	if target == nil {
		return nil, fmt.Errorf("take-profit order %s has no take-profit price", order.ID)
	}
	if price.LessThan(*target) {
		return nil, nil
	}
	return e.ExecuteMarketOrder(ctx, order)
}

// CancelOrder transitions the order to CANCELLED only while it is still
// PENDING and owned by the user. The conditional update resolves races with
// concurrent execution: exactly one of the two transitions commits.
func (e *Engine) CancelOrder(ctx context.Context, orderID string, userID int) (bool, error) {
	return e.store.CancelOrder(ctx, orderID, userID)
}

// GetOrders returns a user's orders, optionally filtered by status
func (e *Engine) GetOrders(ctx context.Context, userID int, status models.OrderStatus) ([]models.Order, error) {
	return e.store.GetUserOrders(ctx, userID, status)
}
