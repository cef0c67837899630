package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solvbot-go/internal/ledger"
	"solvbot-go/internal/venue"
)

// record is one journal line; Kind discriminates the payload.
type record struct {
	Kind     string           `json:"kind"`
	Ts       time.Time        `json:"ts"`
	Order    *venue.Order     `json:"order,omitempty"`
	Fill     *venue.Fill      `json:"fill,omitempty"`
	Snapshot *ledger.Snapshot `json:"snapshot,omitempty"`
}

// JSONL appends journal records as JSON lines for later analysis.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL creates/opens the target file and returns the journal.
func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONL{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// RecordOrder writes one order transition line.
func (j *JSONL) RecordOrder(order venue.Order) error {
	return j.write(record{Kind: "order", Ts: time.Now().UTC(), Order: &order})
}

// RecordFill writes one fill line.
func (j *JSONL) RecordFill(fill venue.Fill) error {
	return j.write(record{Kind: "fill", Ts: time.Now().UTC(), Fill: &fill})
}

// RecordSnapshot writes one account snapshot line.
func (j *JSONL) RecordSnapshot(snap ledger.Snapshot) error {
	return j.write(record{Kind: "snapshot", Ts: time.Now().UTC(), Snapshot: &snap})
}

func (j *JSONL) write(rec record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	return j.enc.Encode(rec)
}

// Close flushes and closes the file handle.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
