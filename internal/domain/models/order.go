package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Order is a candidate order submitted to the pre-trade gate.
// Price is zero for market orders.
type Order struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id" validate:"required"`
	Symbol    string          `json:"symbol" validate:"required"`
	Side      Side            `json:"side" validate:"required,oneof=buy sell"`
	Type      OrderType       `json:"type" default:"market" validate:"oneof=market limit"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// SignedQuantity is positive for buys and negative for sells.
func (o Order) SignedQuantity() decimal.Decimal {
	if o.Side == SideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// Violation codes reported by the gate.
const (
	ViolationKillSwitch     = "KILL_SWITCH"
	ViolationInvalidOrder   = "INVALID_ORDER"
	ViolationMissingPrice   = "MISSING_PRICE"
	ViolationRateLimit      = "RATE_LIMIT"
	ViolationPriceBand      = "PRICE_BAND"
	ViolationOrderNotional  = "MAX_ORDER_NOTIONAL"
	ViolationPositionLimit  = "MAX_POSITION"
	ViolationConcentration  = "MAX_CONCENTRATION"
	ViolationLeverage       = "MAX_LEVERAGE"
	ViolationMargin         = "INSUFFICIENT_MARGIN"
	ViolationVaRLimit       = "MAX_VAR"
	ViolationMissingMetrics = "METRICS_UNAVAILABLE"
	ViolationInternal       = "INTERNAL_ERROR"
)

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Verdict is the gate's answer. Allow is false whenever Violations is non-empty.
// SuggestedQuantity is set when reducing the order size alone would clear it.
type Verdict struct {
	OrderID           string           `json:"order_id,omitempty"`
	Allow             bool             `json:"allow"`
	Actions           []string         `json:"actions"`
	Violations        []Violation      `json:"violations,omitempty"`
	SuggestedQuantity *decimal.Decimal `json:"suggested_quantity,omitempty"`
	MetricsAsOf       *time.Time       `json:"metrics_as_of,omitempty"`
	Latency           time.Duration    `json:"latency_ns"`
}

// Deny records a violation and flips the verdict to deny.
func (v *Verdict) Deny(code, msg string) {
	v.Violations = append(v.Violations, Violation{Code: code, Message: msg})
	v.Actions = append(v.Actions, msg)
	v.Allow = false
}
