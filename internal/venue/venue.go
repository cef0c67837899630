// Package venue defines the order-submission boundary and its
// implementations.
package venue

import (
	"context"
	"errors"
	"time"
)

// Side enumerates order directions.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// OrderType selects the execution style of a venue order.
type OrderType string

const (
	// IOC executes immediately for whatever is available, then cancels.
	IOC OrderType = "IOC"
	// Limit rests at its price until filled or cancelled.
	Limit OrderType = "LIMIT"
	// Market crosses the book immediately.
	Market OrderType = "MARKET"
	// StopMarket triggers a market order once the stop price trades.
	StopMarket OrderType = "STOP_MARKET"
)

// Status is the venue-visible order lifecycle.
type Status string

const (
	Pending         Status = "PENDING"
	Open            Status = "OPEN"
	PartiallyFilled Status = "PARTIALLY_FILLED"
	Filled          Status = "FILLED"
	Cancelled       Status = "CANCELLED"
	Rejected        Status = "REJECTED"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Order is one venue order as the engine tracks it.
type Order struct {
	ID        string    `json:"id"`
	IntentID  string    `json:"intent_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Status    Status    `json:"status"`
	FilledQty float64   `json:"filled_qty"`
	AvgPrice  float64   `json:"avg_price"`
	Ts        time.Time `json:"ts"`
}

// Fill is an execution report. ID is unique per fill and used for
// ledger deduplication.
type Fill struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Ts      time.Time `json:"ts"`
}

// ErrRestingUnsupported is returned by venues that cannot host resting
// orders (atomic swap venues); protective exits then rely on the signal
// engine's stop logic.
var ErrRestingUnsupported = errors.New("venue does not support resting orders")

// Venue is the order-submission capability: submit, cancel, and an
// asynchronous fill-notification channel.
type Venue interface {
	// Submit places the order and returns the acknowledged state.
	Submit(ctx context.Context, order Order) (Order, error)
	// Cancel asks the venue to pull a resting order.
	Cancel(ctx context.Context, orderID string) error
	// Fills streams execution reports.
	Fills() <-chan Fill
	// SupportsResting reports whether Limit/StopMarket orders can rest.
	SupportsResting() bool
}
