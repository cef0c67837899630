// Package market defines the normalized event types every feed is parsed into.
package market

import "time"

// Kind discriminates the event union.
type Kind string

const (
	// KindCandle is a closed OHLCV bar for a fixed interval.
	KindCandle Kind = "candle"
	// KindBookDelta is a top-of-book change, staleness-tolerant.
	KindBookDelta Kind = "book_delta"
	// KindVolumeSnapshot is an aggregate 24h volume observation.
	KindVolumeSnapshot Kind = "volume_snapshot"
	// KindTrade is a single executed trade print.
	KindTrade Kind = "trade"
	// KindGap is a synthetic marker emitted after a feed reconnect.
	KindGap Kind = "gap"
)

// Candle is one OHLCV bar, identified by (symbol, interval, start time).
type Candle struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"interval"`
	Start    time.Time     `json:"start"`
	Open     float64       `json:"open"`
	High     float64       `json:"high"`
	Low      float64       `json:"low"`
	Close    float64       `json:"close"`
	Volume   float64       `json:"volume"`
}

// BookDelta carries the current top of book. Slot is the chain slot (or
// zero for venues without one) and drives the executor's re-price check.
type BookDelta struct {
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	BidSize float64 `json:"bid_size"`
	Ask     float64 `json:"ask"`
	AskSize float64 `json:"ask_size"`
	Slot    uint64  `json:"slot"`
}

// VolumeSnapshot is a 24h aggregate volume reading for a tracked group
// of tokens (the memecoin aggregate).
type VolumeSnapshot struct {
	Symbol    string  `json:"symbol"`
	Volume24h float64 `json:"volume_24h"`
}

// Trade is a single print from a trade stream.
type Trade struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Side   int     `json:"side"` // +1 buy, -1 sell (aggressor)
}

// Gap tells downstream consumers how many intervals a source missed
// while disconnected so they can decide whether to reset rolling state.
type Gap struct {
	Missed int `json:"missed"`
}

// Event is the tagged union DataMux emits. Exactly one payload pointer is
// non-nil, matching Kind. Seq is strictly increasing per Source.
type Event struct {
	Source string    `json:"source"`
	Seq    uint64    `json:"seq"`
	Ts     time.Time `json:"ts"`
	Kind   Kind      `json:"kind"`

	Candle         *Candle         `json:"candle,omitempty"`
	BookDelta      *BookDelta      `json:"book_delta,omitempty"`
	VolumeSnapshot *VolumeSnapshot `json:"volume_snapshot,omitempty"`
	Trade          *Trade          `json:"trade,omitempty"`
	Gap            *Gap            `json:"gap,omitempty"`
}

// Droppable reports whether the mux may shed this event under
// backpressure. Candles and volume snapshots are correctness-critical
// and must never be dropped.
func (e Event) Droppable() bool {
	return e.Kind == KindBookDelta || e.Kind == KindTrade
}
