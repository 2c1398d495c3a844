// Package risk validates orders against account-level risk limits before
// any execution attempt.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/solwerk/tradecore/internal/models"
	"github.com/solwerk/tradecore/internal/venue"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Store is the slice of the durable store the risk manager reads from. Both
// queries exclude the given order id: the order under validation is already
// persisted as PENDING and must not count against itself.
type Store interface {
	CountUserOrdersSince(ctx context.Context, userID int, since time.Time, excludeOrderID string) (int, error)
	SumOpenOrderNotional(ctx context.Context, userID int, excludeOrderID string) (decimal.Decimal, error)
}

// Limits holds the configured account-level risk parameters
type Limits struct {
	MaxPositionSize  decimal.Decimal
	MaxPortfolioRisk decimal.Decimal
	MaxOrdersPerHour int
	MinLiquidity     decimal.Decimal
	BlacklistedMints []string
}

// Result is the outcome of a validation pass. Reason is human-readable and
// becomes the order's failure reason when the caller rejects it.
type Result struct {
	OK     bool
	Reason string
}

// Manager validates orders. It is pure with respect to order state: it never
// mutates orders, the caller owns the REJECTED transition.
type Manager struct {
	store     Store
	liquidity venue.LiquidityProvider
	limits    Limits
	blacklist map[string]bool
	logger    *logrus.Logger
}

// NewManager creates a risk manager with the given limits
func NewManager(store Store, liquidity venue.LiquidityProvider, limits Limits, logger *logrus.Logger) *Manager {
	blacklist := make(map[string]bool, len(limits.BlacklistedMints))
	for _, mint := range limits.BlacklistedMints {
		blacklist[mint] = true
	}
	return &Manager{
		store:     store,
		liquidity: liquidity,
		limits:    limits,
		blacklist: blacklist,
		logger:    logger,
	}
}

// ValidateOrder runs the risk checks in order, short-circuiting on the first
// failure: position size, aggregate open exposure, mint blacklist, hourly
// order count, and pair liquidity.
func (m *Manager) ValidateOrder(ctx context.Context, order *models.Order) (Result, error) {
	if m.limits.MaxPositionSize.IsPositive() && order.Amount.GreaterThan(m.limits.MaxPositionSize) {
		return Result{Reason: fmt.Sprintf("order amount %s exceeds max position size %s",
			order.Amount, m.limits.MaxPositionSize)}, nil
	}

	if m.limits.MaxPortfolioRisk.IsPositive() {
		exposure, err := m.store.SumOpenOrderNotional(ctx, order.UserID, order.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to compute open exposure: %w", err)
		}
		if exposure.Add(order.Amount).GreaterThan(m.limits.MaxPortfolioRisk) {
			return Result{Reason: fmt.Sprintf("open exposure %s plus order %s exceeds max portfolio risk %s",
				exposure, order.Amount, m.limits.MaxPortfolioRisk)}, nil
		}
	}

	if m.blacklist[order.InputMint] {
		return Result{Reason: fmt.Sprintf("input mint %s is blacklisted", order.InputMint)}, nil
	}
	if m.blacklist[order.OutputMint] {
		return Result{Reason: fmt.Sprintf("output mint %s is blacklisted", order.OutputMint)}, nil
	}

	if m.limits.MaxOrdersPerHour > 0 {
		count, err := m.store.CountUserOrdersSince(ctx, order.UserID, time.Now().Add(-time.Hour), order.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to count recent orders: %w", err)
		}
		if count >= m.limits.MaxOrdersPerHour {
			return Result{Reason: fmt.Sprintf("order rate limit reached: %d orders in the last hour (max %d)",
				count, m.limits.MaxOrdersPerHour)}, nil
		}
	}

	if m.limits.MinLiquidity.IsPositive() {
		liquidity, err := m.liquidity.GetPairLiquidity(ctx, order.InputMint, order.OutputMint)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"input_mint":  order.InputMint,
				"output_mint": order.OutputMint,
			}).Warn("Liquidity check unavailable")
			return Result{}, fmt.Errorf("failed to check pair liquidity: %w", err)
		}
		if liquidity.LessThan(m.limits.MinLiquidity) {
			return Result{Reason: fmt.Sprintf("pair liquidity %s below minimum %s",
				liquidity, m.limits.MinLiquidity)}, nil
		}
	}

	return Result{OK: true}, nil
}
