// Package store persists order transitions, fills, and account
// snapshots. Persistence failures are never allowed to stall trading:
// callers journal through Buffered, which retries in the background.
package store

import (
	"solvbot-go/internal/ledger"
	"solvbot-go/internal/venue"
)

// Store is the persistence boundary for the trading journal.
type Store interface {
	RecordOrder(order venue.Order) error
	RecordFill(fill venue.Fill) error
	RecordSnapshot(snap ledger.Snapshot) error
	Close() error
}

// Nop discards everything. Used by the one-shot commands.
type Nop struct{}

func (Nop) RecordOrder(venue.Order) error        { return nil }
func (Nop) RecordFill(venue.Fill) error          { return nil }
func (Nop) RecordSnapshot(ledger.Snapshot) error { return nil }
func (Nop) Close() error                         { return nil }
