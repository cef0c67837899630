// Package ledger is the authoritative record of positions, fills, and
// equity. Only the execution engine's fill path mutates it; everyone
// else reads snapshots.
package ledger

import (
	"errors"
	"sync"
	"time"

	"solvbot-go/internal/metrics"
	"solvbot-go/internal/venue"
)

const epsilon = 1e-9

var (
	ErrDuplicateFill = errors.New("fill already applied")
	ErrBadFill       = errors.New("fill quantity and price must be positive")
	ErrShortPosition = errors.New("sell exceeds current position")
)

// Position is the net exposure in one symbol.
type Position struct {
	Symbol     string  `json:"symbol"`
	Qty        float64 `json:"qty"`
	AvgEntry   float64 `json:"avg_entry"`
	Unrealized float64 `json:"unrealized"`
	// realized accumulated over this position's life, for win/loss
	// classification when it closes.
	TradePnL float64 `json:"trade_pnl"`
}

// Snapshot is a consistent read-only view of the ledger.
type Snapshot struct {
	Ts          time.Time           `json:"ts"`
	Cash        float64             `json:"cash"`
	Equity      float64             `json:"equity"`
	RealizedPnL float64             `json:"realized_pnl"`
	LossStreak  int                 `json:"loss_streak"`
	Positions   map[string]Position `json:"positions"`
	Marks       map[string]float64  `json:"marks"`
}

// Ledger tracks cash, positions, and the consecutive-loss counter.
type Ledger struct {
	mu          sync.Mutex
	cash        float64
	realizedPnL float64
	lossStreak  int
	positions   map[string]Position
	marks       map[string]float64
	appliedFill map[string]struct{}
	onClose     func(win bool)
}

// New seeds a ledger with starting equity held as cash.
func New(startingEquity float64) *Ledger {
	return &Ledger{
		cash:        startingEquity,
		positions:   make(map[string]Position),
		marks:       make(map[string]float64),
		appliedFill: make(map[string]struct{}),
	}
}

// OnPositionClosed registers a callback fired (outside the lock) when a
// position goes flat, with the win/loss outcome.
func (l *Ledger) OnPositionClosed(fn func(win bool)) {
	l.mu.Lock()
	l.onClose = fn
	l.mu.Unlock()
}

// SetMark records the latest observed price for a symbol; used for
// equity marking only, never for fill accounting.
func (l *Ledger) SetMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	l.marks[symbol] = price
	l.mu.Unlock()
}

// ApplyFill mutates positions and cash from one execution report.
// Replays of the same fill ID are rejected without side effects.
func (l *Ledger) ApplyFill(fill venue.Fill) error {
	if fill.Qty <= 0 || fill.Price <= 0 {
		return ErrBadFill
	}

	l.mu.Lock()
	if _, dup := l.appliedFill[fill.ID]; dup {
		l.mu.Unlock()
		return ErrDuplicateFill
	}

	pos := l.positions[fill.Symbol]
	pos.Symbol = fill.Symbol
	notional := fill.Qty * fill.Price

	var closed bool
	var won bool
	switch fill.Side {
	case venue.Buy:
		newQty := pos.Qty + fill.Qty
		pos.AvgEntry = ((pos.AvgEntry * pos.Qty) + notional) / newQty
		pos.Qty = newQty
		l.cash -= notional

	case venue.Sell:
		if pos.Qty+epsilon < fill.Qty {
			l.mu.Unlock()
			return ErrShortPosition
		}
		realized := (fill.Price - pos.AvgEntry) * fill.Qty
		l.realizedPnL += realized
		pos.TradePnL += realized
		l.cash += notional
		pos.Qty -= fill.Qty
		if pos.Qty <= epsilon {
			closed = true
			won = pos.TradePnL > 0
			if won {
				l.lossStreak = 0
			} else {
				l.lossStreak++
			}
			delete(l.positions, fill.Symbol)
		}

	default:
		l.mu.Unlock()
		return ErrBadFill
	}

	if !closed {
		l.positions[fill.Symbol] = pos
	}
	l.appliedFill[fill.ID] = struct{}{}
	l.marks[fill.Symbol] = fill.Price
	onClose := l.onClose
	l.mu.Unlock()

	metrics.FillsTotal.WithLabelValues(fill.Symbol).Inc()
	if closed && onClose != nil {
		onClose(won)
	}
	return nil
}

// Snapshot returns a consistent copy of the ledger state, marked to the
// latest observed prices.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]Position, len(l.positions))
	marks := make(map[string]float64, len(l.marks))
	for sym, px := range l.marks {
		marks[sym] = px
	}
	equity := l.cash
	for sym, pos := range l.positions {
		if mark, ok := l.marks[sym]; ok && mark > 0 {
			pos.Unrealized = (mark - pos.AvgEntry) * pos.Qty
			equity += pos.Qty * mark
		} else {
			equity += pos.Qty * pos.AvgEntry
		}
		positions[sym] = pos
	}

	return Snapshot{
		Ts:          time.Now().UTC(),
		Cash:        l.cash,
		Equity:      equity,
		RealizedPnL: l.realizedPnL,
		LossStreak:  l.lossStreak,
		Positions:   positions,
		Marks:       marks,
	}
}

// Position returns the current position for one symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// LossStreak reports consecutive losing closes since the last win.
func (l *Ledger) LossStreak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lossStreak
}

// ResetLossStreak clears the pause counter (manual override).
func (l *Ledger) ResetLossStreak() {
	l.mu.Lock()
	l.lossStreak = 0
	l.mu.Unlock()
}

// Rehydrate restores positions and the loss counter from a persisted
// snapshot at startup.
func (l *Ledger) Rehydrate(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = snap.Cash
	l.realizedPnL = snap.RealizedPnL
	l.lossStreak = snap.LossStreak
	l.positions = make(map[string]Position, len(snap.Positions))
	for sym, pos := range snap.Positions {
		l.positions[sym] = pos
	}
	for sym, px := range snap.Marks {
		l.marks[sym] = px
	}
}
