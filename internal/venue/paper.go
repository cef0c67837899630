package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const priceEpsilon = 1e-9

// Paper simulates a venue against an externally supplied top-of-book.
// Market and crossing IOC orders fill immediately; limits and stops
// rest and trigger on subsequent book updates.
type Paper struct {
	log zerolog.Logger

	mu       sync.Mutex
	bid, ask float64
	resting  map[string]Order
	fillSeq  int
	fills    chan Fill
	closed   bool
}

// NewPaper returns an empty simulator with no book.
func NewPaper(log zerolog.Logger) *Paper {
	return &Paper{
		log:     log,
		resting: make(map[string]Order),
		fills:   make(chan Fill, 256),
	}
}

// SetBook updates top-of-book and triggers any resting orders the new
// prices reach.
func (p *Paper) SetBook(bid, ask float64) {
	p.mu.Lock()
	if bid > 0 {
		p.bid = bid
	}
	if ask > 0 {
		p.ask = ask
	}
	fills := p.sweepLocked()
	p.mu.Unlock()
	p.emit(fills)
}

// Submit executes or rests the order per its type.
func (p *Paper) Submit(ctx context.Context, order Order) (Order, error) {
	if err := ctx.Err(); err != nil {
		return order, err
	}
	if order.Qty <= 0 {
		order.Status = Rejected
		return order, fmt.Errorf("order %s: non-positive quantity", order.ID)
	}

	p.mu.Lock()
	ack, fills, err := p.submitLocked(order)
	p.mu.Unlock()
	p.emit(fills)
	return ack, err
}

func (p *Paper) submitLocked(order Order) (Order, []Fill, error) {
	cross := p.crossPrice(order.Side)

	switch order.Type {
	case Market:
		if cross <= 0 {
			order.Status = Rejected
			return order, nil, fmt.Errorf("order %s: no book for market order", order.ID)
		}
		fill := p.fillLocked(order, order.Qty, cross)
		order.Status = Filled
		order.FilledQty = order.Qty
		order.AvgPrice = cross
		return order, []Fill{fill}, nil

	case IOC:
		if order.Price <= 0 || cross <= 0 {
			order.Status = Rejected
			return order, nil, fmt.Errorf("order %s: unpriced IOC", order.ID)
		}
		crosses := (order.Side == Buy && order.Price+priceEpsilon >= cross) ||
			(order.Side == Sell && order.Price-priceEpsilon <= cross)
		if !crosses {
			// Nothing available at the limit; the unfilled remainder
			// cancels immediately.
			order.Status = Cancelled
			return order, nil, nil
		}
		fill := p.fillLocked(order, order.Qty, cross)
		order.Status = Filled
		order.FilledQty = order.Qty
		order.AvgPrice = cross
		return order, []Fill{fill}, nil

	case Limit, StopMarket:
		if order.Price <= 0 {
			order.Status = Rejected
			return order, nil, fmt.Errorf("order %s: unpriced %s", order.ID, order.Type)
		}
		order.Status = Open
		p.resting[order.ID] = order
		fills := p.sweepLocked()
		if _, still := p.resting[order.ID]; !still {
			order.Status = Filled
			order.FilledQty = order.Qty
		}
		return order, fills, nil

	default:
		order.Status = Rejected
		return order, nil, fmt.Errorf("order %s: unsupported type %s", order.ID, order.Type)
	}
}

// Cancel removes a resting order.
func (p *Paper) Cancel(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resting[orderID]; !ok {
		return fmt.Errorf("cancel %s: order not resting", orderID)
	}
	delete(p.resting, orderID)
	return nil
}

// Fills streams execution reports.
func (p *Paper) Fills() <-chan Fill { return p.fills }

// SupportsResting is always true for the simulator.
func (p *Paper) SupportsResting() bool { return true }

// Resting reports how many orders currently rest on the book.
func (p *Paper) Resting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resting)
}

// Close stops the fill stream.
func (p *Paper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.fills)
	}
}

// crossPrice is the price a taker on the given side pays.
func (p *Paper) crossPrice(side Side) float64 {
	if side == Buy {
		return p.ask
	}
	return p.bid
}

// sweepLocked fills any resting order the current book has reached.
func (p *Paper) sweepLocked() []Fill {
	var fills []Fill
	for id, o := range p.resting {
		var px float64
		switch {
		case o.Type == Limit && o.Side == Buy && p.ask > 0 && p.ask <= o.Price+priceEpsilon:
			px = o.Price
		case o.Type == Limit && o.Side == Sell && p.bid > 0 && p.bid+priceEpsilon >= o.Price:
			px = o.Price
		case o.Type == StopMarket && o.Side == Sell && p.bid > 0 && p.bid <= o.Price+priceEpsilon:
			px = p.bid
		case o.Type == StopMarket && o.Side == Buy && p.ask > 0 && p.ask+priceEpsilon >= o.Price:
			px = p.ask
		default:
			continue
		}
		fills = append(fills, p.fillLocked(o, o.Qty, px))
		delete(p.resting, id)
	}
	return fills
}

// fillLocked mints the next fill report. Caller holds the lock.
func (p *Paper) fillLocked(o Order, qty, price float64) Fill {
	p.fillSeq++
	return Fill{
		ID:      fmt.Sprintf("paper-%d", p.fillSeq),
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Qty:     qty,
		Price:   price,
		Ts:      o.Ts,
	}
}

// emit delivers fills without holding the lock; a saturated consumer
// drops the report rather than deadlocking the simulator.
func (p *Paper) emit(fills []Fill) {
	for _, fill := range fills {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		select {
		case p.fills <- fill:
		default:
			p.log.Warn().Str("fill", fill.ID).Msg("fill channel saturated, report dropped")
		}
	}
}
