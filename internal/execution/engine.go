// Package execution turns approved decisions into venue orders: tranche
// scheduling, top-of-book repricing, protective exits, and shutdown
// cleanup.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solvbot-go/internal/ledger"
	"solvbot-go/internal/market"
	"solvbot-go/internal/metrics"
	"solvbot-go/internal/risk"
	"solvbot-go/internal/signal"
	"solvbot-go/internal/venue"
)

const qtyEpsilon = 1e-9

// Journal receives every order transition and fill for persistence.
// Failures are logged, never fatal to the trading path.
type Journal interface {
	RecordOrder(order venue.Order) error
	RecordFill(fill venue.Fill) error
}

// Config bounds the engine's order program.
type Config struct {
	TrancheCount     int
	TrancheHorizon   time.Duration
	RepriceTolerance float64
	ShutdownGrace    time.Duration
	TP1Fraction      float64
	StopLoss         float64
	TakeProfit1      float64
	TakeProfit2      float64
}

// Engine owns all venue orders. It is the only component that submits,
// cancels, or applies fills.
type Engine struct {
	cfg     Config
	venue   venue.Venue
	ledger  *ledger.Ledger
	journal Journal
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	intents  map[string]*Intent
	orders   map[string]*trackedOrder
	bid, ask float64
	lastSlot uint64

	onEntry func()
}

// NewEngine wires the engine to its venue, ledger, and journal.
func NewEngine(cfg Config, v venue.Venue, led *ledger.Ledger, journal Journal, log zerolog.Logger) *Engine {
	if cfg.TrancheCount <= 0 {
		cfg.TrancheCount = 3
	}
	if cfg.TrancheHorizon <= 0 {
		cfg.TrancheHorizon = 3 * time.Hour
	}
	if cfg.RepriceTolerance <= 0 {
		cfg.RepriceTolerance = 0.001
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.TP1Fraction <= 0 || cfg.TP1Fraction >= 1 {
		cfg.TP1Fraction = 0.6
	}
	return &Engine{
		cfg:     cfg,
		venue:   v,
		ledger:  led,
		journal: journal,
		log:     log,
		now:     time.Now,
		intents: make(map[string]*Intent),
		orders:  make(map[string]*trackedOrder),
	}
}

// OnEntryOpened registers a callback fired on the first fill of an
// entry intent.
func (e *Engine) OnEntryOpened(fn func()) {
	e.mu.Lock()
	e.onEntry = fn
	e.mu.Unlock()
}

// OnDecision consumes one risk decision. Approved entries become a
// tranche program; exits short-circuit everything.
func (e *Engine) OnDecision(ctx context.Context, dec risk.Decision) error {
	if !dec.Approved {
		return nil
	}
	if !dec.Signal.Ts.IsZero() {
		metrics.DecisionLatency.Observe(e.now().Sub(dec.Signal.Ts).Seconds())
	}

	switch dec.Signal.Action {
	case signal.Exit:
		return e.exitAll(ctx, dec.Signal.Symbol)
	case signal.Enter:
		in := &Intent{
			ID:           uuid.NewString(),
			Symbol:       dec.Signal.Symbol,
			Side:         venue.Buy,
			TotalSize:    dec.Size,
			TrancheCount: e.cfg.TrancheCount,
			Horizon:      e.cfg.TrancheHorizon,
			Stop:         e.cfg.StopLoss,
			TP1:          e.cfg.TakeProfit1,
			TP2:          e.cfg.TakeProfit2,
			CreatedAt:    e.now(),
		}
		e.mu.Lock()
		e.intents[in.ID] = in
		e.mu.Unlock()
		e.log.Info().
			Str("intent", in.ID).
			Str("symbol", in.Symbol).
			Float64("size", in.TotalSize).
			Int("tranches", in.TrancheCount).
			Msg("entry accepted")
		return e.CheckSchedule(ctx, e.now())
	default:
		return nil
	}
}

// CheckSchedule submits every tranche whose due time has passed. The
// run loop calls this on a ticker; tests drive it with a synthetic
// clock.
func (e *Engine) CheckSchedule(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	type due struct {
		intent *Intent
		n      int
	}
	var pending []due
	for _, in := range e.intents {
		for in.submitted < in.TrancheCount && !now.Before(in.trancheDue(in.submitted)) {
			pending = append(pending, due{in, in.submitted})
			in.submitted++
		}
	}
	e.mu.Unlock()

	var firstErr error
	for _, d := range pending {
		if err := e.submitTranche(ctx, d.intent, d.n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// submitTranche places one tranche at prevailing top-of-book as an IOC.
// Any remainder the venue reports back is re-posted as a pegged limit
// so the reprice loop keeps it at top-of-book.
func (e *Engine) submitTranche(ctx context.Context, in *Intent, n int) error {
	e.mu.Lock()
	price := e.topOfBook(in.Side)
	e.mu.Unlock()
	if price <= 0 {
		e.mu.Lock()
		in.failed++
		e.mu.Unlock()
		return fmt.Errorf("tranche %d of intent %s: no book to price against", n, in.ID)
	}

	order := venue.Order{
		ID:       uuid.NewString(),
		IntentID: in.ID,
		Symbol:   in.Symbol,
		Side:     in.Side,
		Type:     venue.IOC,
		Price:    price,
		Qty:      in.trancheSize(),
		Status:   venue.Pending,
		Ts:       e.now(),
	}
	ack, err := e.place(ctx, order, purposeTranche, false)
	if err != nil {
		return err
	}
	if ack.Status != venue.Rejected {
		return nil
	}

	// One retry at a less aggressive price, then give up on the tranche.
	retryPrice := price * (1 - e.cfg.RepriceTolerance)
	if in.Side == venue.Sell {
		retryPrice = price * (1 + e.cfg.RepriceTolerance)
	}
	retry := order
	retry.ID = uuid.NewString()
	retry.Price = retryPrice
	retry.Ts = e.now()
	ack, err = e.place(ctx, retry, purposeTranche, true)
	if err != nil {
		return err
	}
	if ack.Status == venue.Rejected {
		e.mu.Lock()
		in.failed++
		e.mu.Unlock()
		e.log.Error().
			Str("intent", in.ID).
			Int("tranche", n).
			Msg("tranche rejected twice, abandoning")
	}
	return nil
}

// place submits an order, records the acknowledged transition, and
// re-posts IOC remainders as pegged limits.
func (e *Engine) place(ctx context.Context, order venue.Order, p purpose, retried bool) (venue.Order, error) {
	tracked := &trackedOrder{Order: order, purpose: p, retried: retried}
	e.mu.Lock()
	e.orders[order.ID] = tracked
	e.mu.Unlock()
	e.record(tracked.Order)
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()

	ack, err := e.venue.Submit(ctx, order)
	if err != nil {
		e.mu.Lock()
		_ = tracked.transition(venue.Rejected, e.now())
		snapshot := tracked.Order
		e.mu.Unlock()
		e.record(snapshot)
		return snapshot, fmt.Errorf("submit %s: %w", order.ID, err)
	}

	// Executed quantity is accounted exclusively through the fill
	// stream; the ack's FilledQty only sizes the remainder below.
	e.mu.Lock()
	if err := tracked.transition(ack.Status, e.now()); err != nil {
		e.mu.Unlock()
		return ack, fmt.Errorf("ack for %s: %w", order.ID, err)
	}
	if ack.Status == venue.Open && order.Type == venue.Limit {
		tracked.pegged = p == purposeTranche
	}
	remainder := order.Qty - ack.FilledQty
	snapshot := tracked.Order
	e.mu.Unlock()
	e.record(snapshot)

	// IOC leftovers go back out as a resting limit at the same price.
	if p == purposeTranche && order.Type == venue.IOC &&
		ack.Status == venue.Cancelled && remainder > qtyEpsilon && e.venue.SupportsResting() {
		rest := order
		rest.ID = uuid.NewString()
		rest.Type = venue.Limit
		rest.Qty = remainder
		rest.Ts = e.now()
		if _, err := e.place(ctx, rest, purposeTranche, retried); err != nil {
			return snapshot, err
		}
	}
	return snapshot, nil
}

// OnBook ingests a book update: refresh top-of-book, mark the ledger,
// and reprice pegged orders on slot boundaries.
func (e *Engine) OnBook(ctx context.Context, delta market.BookDelta) {
	e.mu.Lock()
	if delta.Bid > 0 {
		e.bid = delta.Bid
	}
	if delta.Ask > 0 {
		e.ask = delta.Ask
	}
	mark := e.bid
	newSlot := delta.Slot > e.lastSlot
	if newSlot {
		e.lastSlot = delta.Slot
	}
	e.mu.Unlock()

	if mark > 0 {
		e.ledger.SetMark(delta.Symbol, mark)
	}
	if newSlot {
		e.repricePegged(ctx)
	}
}

// repricePegged cancel/replaces any pegged resting order whose price
// has drifted beyond tolerance from top-of-book. At most one
// cancel/replace is outstanding per order; triggers arriving while one
// is inflight are coalesced.
func (e *Engine) repricePegged(ctx context.Context) {
	e.mu.Lock()
	var stale []*trackedOrder
	for _, o := range e.orders {
		if !o.pegged || o.Status.Terminal() {
			continue
		}
		target := e.topOfBook(o.Side)
		if target <= 0 || o.Price <= 0 {
			continue
		}
		drift := (target - o.Price) / o.Price
		if drift < 0 {
			drift = -drift
		}
		if drift <= e.cfg.RepriceTolerance {
			continue
		}
		if o.inflight {
			o.coalesced = true
			continue
		}
		o.inflight = true
		stale = append(stale, o)
	}
	e.mu.Unlock()

	for _, o := range stale {
		e.replace(ctx, o)
	}
}

// replace cancels a resting order and re-posts its remainder at the
// current top-of-book. Caller must have set the inflight flag.
func (e *Engine) replace(ctx context.Context, o *trackedOrder) {
	if err := e.venue.Cancel(ctx, o.ID); err != nil {
		e.mu.Lock()
		o.inflight = false
		o.coalesced = false
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("order", o.ID).Msg("cancel for replace failed")
		return
	}

	e.mu.Lock()
	_ = o.transition(venue.Cancelled, e.now())
	o.inflight = false
	o.coalesced = false
	remainder := o.Qty - o.FilledQty
	price := e.topOfBook(o.Side)
	snapshot := o.Order
	intentID := o.IntentID
	e.mu.Unlock()
	e.record(snapshot)
	if remainder <= qtyEpsilon || price <= 0 {
		return
	}

	next := venue.Order{
		ID:       uuid.NewString(),
		IntentID: intentID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Type:     venue.Limit,
		Price:    price,
		Qty:      remainder,
		Status:   venue.Pending,
		Ts:       e.now(),
	}
	if _, err := e.place(ctx, next, o.purpose, o.retried); err != nil {
		e.log.Warn().Err(err).Str("order", next.ID).Msg("replace submit failed")
	}
}

// ApplyFill routes one execution report: ledger accounting, order state,
// and the protective program once an entry completes.
func (e *Engine) ApplyFill(ctx context.Context, fill venue.Fill) error {
	if err := e.ledger.ApplyFill(fill); err != nil {
		if errors.Is(err, ledger.ErrDuplicateFill) {
			e.log.Debug().Str("fill", fill.ID).Msg("duplicate fill ignored")
			return nil
		}
		return fmt.Errorf("ledger: %w", err)
	}
	if err := e.journal.RecordFill(fill); err != nil {
		e.log.Warn().Err(err).Str("fill", fill.ID).Msg("fill journaling failed")
	}

	e.mu.Lock()
	o, ok := e.orders[fill.OrderID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn().Str("order", fill.OrderID).Msg("fill for untracked order")
		return nil
	}
	o.AvgPrice = (o.AvgPrice*o.FilledQty + fill.Price*fill.Qty) / (o.FilledQty + fill.Qty)
	o.FilledQty += fill.Qty
	status := venue.PartiallyFilled
	if o.FilledQty+qtyEpsilon >= o.Qty {
		status = venue.Filled
	}
	_ = o.transition(status, fill.Ts)
	snapshot := o.Order
	p := o.purpose
	in := e.intents[o.IntentID]
	var firstFill bool
	if in != nil && p == purposeTranche {
		firstFill = in.filledQty <= qtyEpsilon
		in.filledQty += fill.Qty
	}
	onEntry := e.onEntry
	e.mu.Unlock()
	e.record(snapshot)

	if firstFill && onEntry != nil {
		onEntry()
	}
	if in != nil && p == purposeTranche {
		e.maybeProtect(ctx, in)
	}
	if p == purposeStop || p == purposeTakeProfit || p == purposeFlatten {
		e.reconcileExits(ctx, fill.Symbol)
	}
	return nil
}

// maybeProtect posts the stop and take-profit program once the tranche
// phase is complete. Abandoned tranches shrink the attainable target so
// a partial program still gets protected.
func (e *Engine) maybeProtect(ctx context.Context, in *Intent) {
	e.mu.Lock()
	target := in.TotalSize - float64(in.failed)*in.trancheSize()
	done := in.submitted >= in.TrancheCount && !in.protected &&
		in.filledQty > qtyEpsilon && in.filledQty+qtyEpsilon >= target
	if done {
		in.protected = true
	}
	qty := in.filledQty
	e.mu.Unlock()
	if !done {
		return
	}

	if !e.venue.SupportsResting() {
		e.log.Info().Str("intent", in.ID).
			Msg("venue cannot rest orders, exits rely on stop monitoring")
		return
	}

	tp1Qty := qty * e.cfg.TP1Fraction
	protective := []venue.Order{
		{ID: uuid.NewString(), IntentID: in.ID, Symbol: in.Symbol, Side: venue.Sell,
			Type: venue.StopMarket, Price: in.Stop, Qty: qty, Status: venue.Pending, Ts: e.now()},
		{ID: uuid.NewString(), IntentID: in.ID, Symbol: in.Symbol, Side: venue.Sell,
			Type: venue.Limit, Price: in.TP1, Qty: tp1Qty, Status: venue.Pending, Ts: e.now()},
		{ID: uuid.NewString(), IntentID: in.ID, Symbol: in.Symbol, Side: venue.Sell,
			Type: venue.Limit, Price: in.TP2, Qty: qty - tp1Qty, Status: venue.Pending, Ts: e.now()},
	}
	purposes := []purpose{purposeStop, purposeTakeProfit, purposeTakeProfit}
	for i, order := range protective {
		if _, err := e.place(ctx, order, purposes[i], false); err != nil {
			e.log.Error().Err(err).Str("intent", in.ID).Msg("protective order failed")
		}
	}
	e.log.Info().Str("intent", in.ID).Float64("qty", qty).Msg("protective orders posted")
}

// reconcileExits keeps the protective set consistent after one of them
// fills: flat position cancels everything left; a partial take-profit
// resizes the stop to the remaining quantity.
func (e *Engine) reconcileExits(ctx context.Context, symbol string) {
	pos, open := e.ledger.Position(symbol)

	e.mu.Lock()
	var cancels []*trackedOrder
	var stop *trackedOrder
	for _, o := range e.orders {
		if o.Symbol != symbol || o.Status.Terminal() {
			continue
		}
		if !open {
			cancels = append(cancels, o)
			continue
		}
		if o.purpose == purposeStop {
			stop = o
		}
	}
	e.mu.Unlock()

	for _, o := range cancels {
		e.cancelOrder(ctx, o)
	}
	if !open || stop == nil {
		return
	}
	if stop.Qty-pos.Qty > qtyEpsilon {
		e.cancelOrder(ctx, stop)
		next := venue.Order{
			ID: uuid.NewString(), IntentID: stop.IntentID, Symbol: symbol, Side: venue.Sell,
			Type: venue.StopMarket, Price: stop.Price, Qty: pos.Qty, Status: venue.Pending, Ts: e.now(),
		}
		if _, err := e.place(ctx, next, purposeStop, false); err != nil {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("stop resize failed")
		}
	}
}

// exitAll cancels every live order for the symbol and flattens the
// position with a market order. Runs ahead of any queued entry work.
func (e *Engine) exitAll(ctx context.Context, symbol string) error {
	e.mu.Lock()
	var live []*trackedOrder
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.Status.Terminal() {
			live = append(live, o)
		}
	}
	for _, in := range e.intents {
		if in.Symbol == symbol {
			in.submitted = in.TrancheCount
			in.protected = true
		}
	}
	e.mu.Unlock()

	for _, o := range live {
		e.cancelOrder(ctx, o)
	}

	pos, open := e.ledger.Position(symbol)
	if !open || pos.Qty <= qtyEpsilon {
		return nil
	}
	order := venue.Order{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Side:   venue.Sell,
		Type:   venue.Market,
		Qty:    pos.Qty,
		Status: venue.Pending,
		Ts:     e.now(),
	}
	e.log.Warn().Str("symbol", symbol).Float64("qty", pos.Qty).Msg("flattening position")
	_, err := e.place(ctx, order, purposeFlatten, false)
	return err
}

// cancelOrder pulls one resting order and records the transition.
func (e *Engine) cancelOrder(ctx context.Context, o *trackedOrder) {
	if err := e.venue.Cancel(ctx, o.ID); err != nil {
		e.log.Warn().Err(err).Str("order", o.ID).Msg("cancel failed")
		return
	}
	e.mu.Lock()
	_ = o.transition(venue.Cancelled, e.now())
	snapshot := o.Order
	e.mu.Unlock()
	e.record(snapshot)
}

// Run drives the engine until the context ends: fills from the venue,
// the tranche schedule on a ticker, then a graceful shutdown sweep.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.Shutdown(context.Background())
		case fill, ok := <-e.venue.Fills():
			if !ok {
				return e.Shutdown(context.Background())
			}
			if err := e.ApplyFill(ctx, fill); err != nil {
				e.log.Error().Err(err).Str("fill", fill.ID).Msg("fill application failed")
			}
		case now := <-ticker.C:
			if err := e.CheckSchedule(ctx, now); err != nil {
				e.log.Warn().Err(err).Msg("tranche submission failed")
			}
		}
	}
}

// Shutdown cancels every live order within the grace window. Orders
// still live when the window closes are reported for manual
// reconciliation.
func (e *Engine) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownGrace)
	defer cancel()

	e.mu.Lock()
	var live []*trackedOrder
	for _, o := range e.orders {
		if !o.Status.Terminal() {
			live = append(live, o)
		}
	}
	e.mu.Unlock()

	var abandoned []string
	for _, o := range live {
		if ctx.Err() != nil {
			abandoned = append(abandoned, o.ID)
			continue
		}
		if err := e.venue.Cancel(ctx, o.ID); err != nil {
			abandoned = append(abandoned, o.ID)
			continue
		}
		e.mu.Lock()
		_ = o.transition(venue.Cancelled, e.now())
		snapshot := o.Order
		e.mu.Unlock()
		e.record(snapshot)
	}
	if len(abandoned) > 0 {
		e.log.Error().Strs("orders", abandoned).Msg("orders left live at shutdown, reconcile manually")
		return fmt.Errorf("shutdown left %d live orders: %s", len(abandoned), strings.Join(abandoned, ","))
	}
	e.log.Info().Int("cancelled", len(live)).Msg("shutdown sweep complete")
	return nil
}

// Orders returns a snapshot of every tracked order, newest state wins.
func (e *Engine) Orders() []venue.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]venue.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Order)
	}
	return out
}

// topOfBook picks the crossing price for a side. Caller holds the lock.
func (e *Engine) topOfBook(side venue.Side) float64 {
	if side == venue.Buy {
		return e.ask
	}
	return e.bid
}

func (e *Engine) record(order venue.Order) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordOrder(order); err != nil {
		e.log.Warn().Err(err).Str("order", order.ID).Msg("order journaling failed")
	}
}
