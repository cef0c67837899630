package execution

import (
	"errors"
	"time"

	"solvbot-go/internal/venue"
)

var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// purpose distinguishes why an order exists within an intent's program.
type purpose string

const (
	purposeTranche    purpose = "tranche"
	purposeStop       purpose = "stop"
	purposeTakeProfit purpose = "take_profit"
	purposeFlatten    purpose = "flatten"
)

// transitions is the table-driven order lifecycle. Terminal states have
// no outgoing edges; everything else is rejected.
var transitions = map[venue.Status]map[venue.Status]bool{
	venue.Pending: {
		venue.Open:            true,
		venue.PartiallyFilled: true,
		venue.Filled:          true,
		venue.Cancelled:       true,
		venue.Rejected:        true,
	},
	venue.Open: {
		venue.PartiallyFilled: true,
		venue.Filled:          true,
		venue.Cancelled:       true,
		venue.Rejected:        true,
	},
	venue.PartiallyFilled: {
		venue.PartiallyFilled: true,
		venue.Filled:          true,
		venue.Cancelled:       true,
	},
}

func canTransition(from, to venue.Status) bool {
	return transitions[from][to]
}

// trackedOrder augments the venue order with engine-side bookkeeping.
type trackedOrder struct {
	venue.Order
	purpose purpose
	// pegged orders follow top-of-book via the cancel/replace loop.
	pegged bool
	// retried marks that the single reject retry has been spent.
	retried bool
	// inflight guards the one-outstanding-cancel/replace invariant;
	// coalesced remembers a trigger that arrived while inflight.
	inflight  bool
	coalesced bool
}

// transition applies a validated state change.
func (o *trackedOrder) transition(to venue.Status, ts time.Time) error {
	if o.Status == to {
		return nil
	}
	if !canTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.Ts = ts
	return nil
}

// Intent is one desired execution action expanded into a tranche program.
type Intent struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Side         venue.Side    `json:"side"`
	TotalSize    float64       `json:"total_size"`
	TrancheCount int           `json:"tranche_count"`
	Horizon      time.Duration `json:"horizon"`
	Stop         float64       `json:"stop"`
	TP1          float64       `json:"tp1"`
	TP2          float64       `json:"tp2"`
	CreatedAt    time.Time     `json:"created_at"`

	submitted int
	filledQty float64
	protected bool
	failed    int
}

// trancheDue returns the submission time of the n-th tranche (0-based),
// spread evenly across the horizon with the first due immediately.
func (in *Intent) trancheDue(n int) time.Time {
	if in.TrancheCount <= 1 {
		return in.CreatedAt
	}
	step := in.Horizon / time.Duration(in.TrancheCount)
	return in.CreatedAt.Add(time.Duration(n) * step)
}

// trancheSize is the per-tranche quantity.
func (in *Intent) trancheSize() float64 {
	return in.TotalSize / float64(in.TrancheCount)
}
