package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// OrderType classifies how an order is triggered
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStopLoss     OrderType = "STOP_LOSS"
	OrderTypeTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// IsConditional reports whether the order type requires periodic
// re-evaluation against the live price, unlike MARKET which executes
// immediately.
func (t OrderType) IsConditional() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// OrderSide represents the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the lifecycle state of an order.
// PENDING is the only non-terminal state. PARTIALLY_FILLED is reserved
// for linked partial fills and is never produced today (full-fill or
// no-fill only).
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

// TimeInForce controls how long an order stays eligible for execution
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // good till cancelled
	TimeInForceGTD TimeInForce = "GTD" // good till date, requires ExpiresAt
	TimeInForceIOC TimeInForce = "IOC" // immediate or cancel
)

// Order represents a user's trading intent against a token pair
type Order struct {
	ID                string           `json:"id"`
	UserID            int              `json:"user_id"`
	Wallet            string           `json:"wallet"`
	Type              OrderType        `json:"type"`
	Side              OrderSide        `json:"side"`
	Status            OrderStatus      `json:"status"`
	InputMint         string           `json:"input_mint"`
	OutputMint        string           `json:"output_mint"`
	Amount            decimal.Decimal  `json:"amount"`
	LimitPrice        *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice         *decimal.Decimal `json:"stop_price,omitempty"`
	TakeProfitPrice   *decimal.Decimal `json:"take_profit_price,omitempty"`
	MarketPrice       decimal.Decimal  `json:"market_price"` // reference price recorded at creation
	SlippageTolerance decimal.Decimal  `json:"slippage_tolerance"`
	TimeInForce       TimeInForce      `json:"time_in_force"`
	StrategyID        *string          `json:"strategy_id,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
}

// TriggerPrice returns the price that is authoritative for the order's type.
func (o *Order) TriggerPrice() *decimal.Decimal {
	switch o.Type {
	case OrderTypeLimit:
		return o.LimitPrice
	case OrderTypeStopLoss, OrderTypeTrailingStop:
		return o.StopPrice
	case OrderTypeTakeProfit:
		return o.TakeProfitPrice
	}
	return nil
}

// ReferencePrice returns the price slippage is measured against: the limit
// price when present, otherwise the market price recorded at creation.
func (o *Order) ReferencePrice() decimal.Decimal {
	if o.LimitPrice != nil && o.LimitPrice.IsPositive() {
		return *o.LimitPrice
	}
	return o.MarketPrice
}

// Validate checks the structural invariants of an order intent.
func (o *Order) Validate() error {
	if !o.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if o.SlippageTolerance.IsNegative() || o.SlippageTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("slippage tolerance must be between 0 and 1")
	}
	if o.InputMint == "" || o.OutputMint == "" {
		return fmt.Errorf("input and output mints are required")
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("side must be BUY or SELL")
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice == nil || !o.LimitPrice.IsPositive() {
			return fmt.Errorf("limit order requires a positive limit price")
		}
	case OrderTypeStopLoss:
		if o.StopPrice == nil || !o.StopPrice.IsPositive() {
			return fmt.Errorf("stop-loss order requires a positive stop price")
		}
	case OrderTypeTakeProfit:
		if o.TakeProfitPrice == nil || !o.TakeProfitPrice.IsPositive() {
			return fmt.Errorf("take-profit order requires a positive take-profit price")
		}
	case OrderTypeTrailingStop:
		if o.StopPrice == nil || !o.StopPrice.IsPositive() {
			return fmt.Errorf("trailing-stop order requires a positive stop price")
		}
	default:
		return fmt.Errorf("unknown order type %q", o.Type)
	}
	if o.TimeInForce == TimeInForceGTD && o.ExpiresAt == nil {
		return fmt.Errorf("GTD order requires an expiry time")
	}
	return nil
}

// TradeStatus marks the settlement state of a trade record
type TradeStatus string

const (
	TradeStatusConfirmed TradeStatus = "CONFIRMED"
)

// Trade is an immutable settlement record produced by exactly one
// successful execution of exactly one order.
type Trade struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	UserID           int             `json:"user_id"`
	InputMint        string          `json:"input_mint"`
	OutputMint       string          `json:"output_mint"`
	InAmount         decimal.Decimal `json:"in_amount"`
	OutAmount        decimal.Decimal `json:"out_amount"`
	Price            decimal.Decimal `json:"price"`
	Side             OrderSide       `json:"side"`
	Signature        string          `json:"signature"`
	Status           TradeStatus     `json:"status"`
	Fee              decimal.Decimal `json:"fee"`
	RealizedSlippage decimal.Decimal `json:"realized_slippage"`
	ExecutedAt       time.Time       `json:"executed_at"`
}

// Position is the derived holdings view for one user and one asset.
// Zero size is a valid terminal state, not deletion.
type Position struct {
	UserID      int             `json:"user_id"`
	Mint        string          `json:"mint"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Invested    decimal.Decimal `json:"invested"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Quote is a venue's ephemeral price offer for a pair and amount.
// Quotes are never persisted and never reused across execution attempts.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	Price          decimal.Decimal // implied: OutAmount / InAmount
	PriceImpactPct decimal.Decimal
	Route          []string
	ExpiresAt      time.Time
}
