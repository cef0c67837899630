package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solvbot-go/internal/ledger"
	"solvbot-go/internal/venue"
)

// OrderRow mirrors every order state transition; one row per
// transition, not per order, so the full lifecycle is replayable.
type OrderRow struct {
	ID        uint      `gorm:"primaryKey"`
	OrderID   string    `gorm:"index;size:64"`
	IntentID  string    `gorm:"index;size:64"`
	Symbol    string    `gorm:"size:32"`
	Side      string    `gorm:"size:8"`
	Type      string    `gorm:"size:16"`
	Status    string    `gorm:"size:24"`
	Price     float64
	Qty       float64
	FilledQty float64
	AvgPrice  float64
	Ts        time.Time `gorm:"index"`
	CreatedAt time.Time
}

// FillRow is one execution report. FillID is unique so replays upsert
// into nothing.
type FillRow struct {
	ID        uint      `gorm:"primaryKey"`
	FillID    string    `gorm:"uniqueIndex;size:128"`
	OrderID   string    `gorm:"index;size:64"`
	Symbol    string    `gorm:"size:32"`
	Side      string    `gorm:"size:8"`
	Qty       float64
	Price     float64
	Ts        time.Time `gorm:"index"`
	CreatedAt time.Time
}

// SnapshotRow stores the marked account state as a JSON document.
type SnapshotRow struct {
	ID        uint `gorm:"primaryKey"`
	Equity    float64
	Cash      float64
	Payload   []byte    `gorm:"type:jsonb"`
	Ts        time.Time `gorm:"index"`
	CreatedAt time.Time
}

// Postgres journals into a relational store for dashboards and
// post-trade analysis.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres connects and migrates the journal tables.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.AutoMigrate(&OrderRow{}, &FillRow{}, &SnapshotRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

// RecordOrder appends one transition row.
func (p *Postgres) RecordOrder(order venue.Order) error {
	row := OrderRow{
		OrderID:   order.ID,
		IntentID:  order.IntentID,
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Type:      string(order.Type),
		Status:    string(order.Status),
		Price:     order.Price,
		Qty:       order.Qty,
		FilledQty: order.FilledQty,
		AvgPrice:  order.AvgPrice,
		Ts:        order.Ts,
	}
	return p.db.Create(&row).Error
}

// RecordFill inserts the fill; a replayed fill ID is silently skipped.
func (p *Postgres) RecordFill(fill venue.Fill) error {
	row := FillRow{
		FillID:  fill.ID,
		OrderID: fill.OrderID,
		Symbol:  fill.Symbol,
		Side:    string(fill.Side),
		Qty:     fill.Qty,
		Price:   fill.Price,
		Ts:      fill.Ts,
	}
	err := p.db.Create(&row).Error
	if err != nil && p.db.Where("fill_id = ?", fill.ID).First(&FillRow{}).Error == nil {
		return nil
	}
	return err
}

// RecordSnapshot stores the full snapshot as jsonb plus hot columns.
func (p *Postgres) RecordSnapshot(snap ledger.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	row := SnapshotRow{
		Equity:  snap.Equity,
		Cash:    snap.Cash,
		Payload: payload,
		Ts:      snap.Ts,
	}
	return p.db.Create(&row).Error
}

// LatestSnapshot loads the most recent snapshot for rehydration.
func (p *Postgres) LatestSnapshot() (ledger.Snapshot, bool, error) {
	var row SnapshotRow
	err := p.db.Order("ts desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return snap, true, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
