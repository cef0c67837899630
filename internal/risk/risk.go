// Package risk gates every signal against position, loss-streak, and
// lock-state policy before it may reach execution.
package risk

import (
	"sync"

	"github.com/rs/zerolog"

	"solvbot-go/internal/ledger"
	"solvbot-go/internal/metrics"
	"solvbot-go/internal/signal"
)

// Reason is the denial code attached to a rejected decision.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNewsLock    Reason = "news_lock_active"
	ReasonLossStreak  Reason = "loss_streak_pause"
	ReasonMaxRisk     Reason = "max_risk_exceeded"
	ReasonStaleStop   Reason = "stale_stop_breached"
	ReasonBadGeometry Reason = "invalid_risk_geometry"
)

// Decision wraps a signal with the gate outcome. Produced once per
// signal, never retried.
type Decision struct {
	Signal   signal.Signal `json:"signal"`
	Approved bool          `json:"approved"`
	Reason   Reason        `json:"reason,omitempty"`
	// Size is the approved position size in base units.
	Size float64 `json:"size,omitempty"`
}

// Params bound what the manager lets through.
type Params struct {
	MaxTradeRisk   float64 // fraction of equity at risk per trade
	StopLoss       float64
	PauseThreshold int
	NewsLock       bool
}

// Manager applies the gating rules in fixed order; the first failing
// rule determines the denial reason.
type Manager struct {
	mu  sync.Mutex
	p   Params
	log zerolog.Logger
}

// NewManager builds a manager from the configured policy.
func NewManager(p Params, log zerolog.Logger) *Manager {
	if p.PauseThreshold <= 0 {
		p.PauseThreshold = 4
	}
	return &Manager{p: p, log: log}
}

// SetNewsLock flips the externally controlled entry lock.
func (m *Manager) SetNewsLock(locked bool) {
	m.mu.Lock()
	m.p.NewsLock = locked
	m.mu.Unlock()
}

// Update swaps the policy parameters (config reload).
func (m *Manager) Update(p Params) {
	m.mu.Lock()
	if p.PauseThreshold <= 0 {
		p.PauseThreshold = 4
	}
	m.p = p
	m.mu.Unlock()
}

// Evaluate gates one signal against the current ledger snapshot.
// Exits are always approved: flattening reduces risk by definition.
func (m *Manager) Evaluate(sig signal.Signal, snap ledger.Snapshot) Decision {
	if sig.Action == signal.Exit {
		return Decision{Signal: sig, Approved: true}
	}
	if sig.Action != signal.Enter {
		return Decision{Signal: sig, Approved: false}
	}

	m.mu.Lock()
	p := m.p
	m.mu.Unlock()

	deny := func(reason Reason) Decision {
		metrics.RiskDenials.WithLabelValues(string(reason)).Inc()
		m.log.Info().Str("symbol", sig.Symbol).Str("reason", string(reason)).Msg("entry denied")
		return Decision{Signal: sig, Approved: false, Reason: reason}
	}

	// Rule 1: external news lock.
	if p.NewsLock {
		return deny(ReasonNewsLock)
	}

	// Rule 2: consecutive-loss pause.
	if snap.LossStreak >= p.PauseThreshold {
		return deny(ReasonLossStreak)
	}

	// Rule 3: position sizing within the max-risk fraction of equity.
	// Size derives from the signal's entry price and the stop distance.
	entry := sig.Price
	distance := entry - p.StopLoss
	if distance <= 0 || p.StopLoss <= 0 {
		return deny(ReasonBadGeometry)
	}
	if snap.Equity <= 0 {
		return deny(ReasonMaxRisk)
	}
	size := (snap.Equity * p.MaxTradeRisk) / distance
	if size <= 0 || size*entry > snap.Equity {
		return deny(ReasonMaxRisk)
	}

	// Rule 4: the stop must not already be breached at decision time.
	// The freshest mark, not the signal's entry price, decides staleness.
	if mark, ok := snap.Marks[sig.Symbol]; ok && mark > 0 && mark <= p.StopLoss {
		return deny(ReasonStaleStop)
	}

	return Decision{Signal: sig, Approved: true, Size: size}
}
