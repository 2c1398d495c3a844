// Package venue abstracts the external swap aggregator the engine trades
// against: price quotes, live pair prices, pool liquidity, and swap
// submission.
package venue

import (
	"context"
	"errors"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/shopspring/decimal"
)

// Transient provider failures. Market orders fail hard on these; conditional
// orders are left pending and retried on the next scheduler tick.
var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrPriceUnavailable = errors.New("price unavailable")
)

// QuoteProvider returns executable quotes and live prices for a token pair
type QuoteProvider interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount decimal.Decimal) (*models.Quote, error)
	GetCurrentPrice(ctx context.Context, inputMint, outputMint string) (decimal.Decimal, error)
}

// LiquidityProvider reports available pool liquidity for a pair
type LiquidityProvider interface {
	GetPairLiquidity(ctx context.Context, inputMint, outputMint string) (decimal.Decimal, error)
}

// SwapResult is the venue's settlement report for a submitted swap
type SwapResult struct {
	Success          bool
	Signature        string
	Err              string
	Fee              decimal.Decimal
	RealizedSlippage decimal.Decimal
}

// SwapExecutor submits an on-chain swap built from a quote
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, quote *models.Quote, wallet string, slippageTolerance decimal.Decimal) (*SwapResult, error)
}
