package domain

import "time"

// OrderSide labels an entry in a tier's trade log.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// PendingOrder is a simulated resting limit order waiting for the live ask
// to reach its limit price. At most one exists per (tier, condition key).
type PendingOrder struct {
	Tier         Tier       `json:"tier"`
	ConditionKey string     `json:"conditionKey"`
	WindowID     string     `json:"windowId"`
	InstrumentID string     `json:"instrumentId"`
	Outcome      Outcome    `json:"outcomeLabel"`
	LimitPrice   float64    `json:"limitPrice"`
	ModelPrice   float64    `json:"modelPrice"`
	SizeUSD      float64    `json:"sizeUsd"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// Expired reports whether the order can no longer fill at now.
func (o PendingOrder) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// TradeLogEntry is one BUY (open) or SELL (close) line of a tier's trade log.
type TradeLogEntry struct {
	At           time.Time `json:"at"`
	Side         OrderSide `json:"side"`
	PositionID   string    `json:"positionId"`
	ConditionKey string    `json:"conditionKey"`
	Outcome      Outcome   `json:"outcomeLabel"`
	Price        float64   `json:"price"`
	SizeUSD      float64   `json:"sizeUsd"`
	PnlUSD       *float64  `json:"pnlUsd,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	Question     string    `json:"question,omitempty"`
}

// ConditionKey identifies "this event window, this tier".
func ConditionKey(windowID string, tier Tier) string {
	return windowID + ":" + string(tier)
}
