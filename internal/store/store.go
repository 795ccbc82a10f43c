package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	StatusActive  = "active"
	StatusPaused  = "paused"
	StatusDeleted = "deleted"
)

// TraderRow is the persisted per-market trader configuration. The roster in
// this table is the source of truth for which agents the fleet runs.
type TraderRow struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	MarketSlug       string  `gorm:"uniqueIndex;not null"`
	Budget           float64 `gorm:"not null"`
	MinGap           float64 `gorm:"not null"`
	PriceImprovement float64 `gorm:"not null;default:1.0"`
	OrderSize        float64
	MaxInventory     float64
	Status           string `gorm:"index;not null;default:active"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TraderRow) TableName() string { return "traders" }

func (t *TraderRow) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// FillRow records one executed trade.
type FillRow struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	TraderID   *string `gorm:"type:uuid;index"`
	MarketSlug string  `gorm:"index;not null"`
	Side       string  `gorm:"not null"`
	Price      float64 `gorm:"not null"`
	Size       float64 `gorm:"not null"`
	OrderID    string
	PnL        *float64
	CreatedAt  time.Time
}

func (FillRow) TableName() string { return "fills" }

func (f *FillRow) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// LogRow records one trader log line.
type LogRow struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	TraderID  *string `gorm:"type:uuid;index"`
	Level     string  `gorm:"not null"`
	Message   string  `gorm:"not null"`
	CreatedAt time.Time
}

func (LogRow) TableName() string { return "logs" }

func (l *LogRow) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Store wraps the Postgres roster/fills/logs tables. A nil *Store is a valid
// receiver for the read/write helpers; every call then reports unavailability
// so the fleet can run without persistence.
type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&TraderRow{}, &FillRow{}, &LogRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Available() bool { return s != nil && s.db != nil }

// LoadAllTraders returns the roster. With includePaused it returns active and
// paused rows; otherwise only active ones. Deleted rows are never returned.
func (s *Store) LoadAllTraders(ctx context.Context, includePaused bool) ([]TraderRow, error) {
	if !s.Available() {
		return nil, fmt.Errorf("store not available")
	}

	q := s.db.WithContext(ctx)
	if includePaused {
		q = q.Where("status IN ?", []string{StatusActive, StatusPaused})
	} else {
		q = q.Where("status = ?", StatusActive)
	}

	var rows []TraderRow
	if err := q.Order("market_slug").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load traders: %w", err)
	}
	return rows, nil
}

func (s *Store) LoadTraderBySlug(ctx context.Context, marketSlug string) (*TraderRow, error) {
	if !s.Available() {
		return nil, fmt.Errorf("store not available")
	}

	var row TraderRow
	err := s.db.WithContext(ctx).Where("market_slug = ?", marketSlug).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load trader %s: %w", marketSlug, err)
	}
	return &row, nil
}

// GetTraderStatus returns the status for a slug, or "" when the row is gone.
func (s *Store) GetTraderStatus(ctx context.Context, marketSlug string) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("store not available")
	}

	var row TraderRow
	err := s.db.WithContext(ctx).Select("status").Where("market_slug = ?", marketSlug).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("trader status %s: %w", marketSlug, err)
	}
	if row.Status == "" {
		return StatusActive, nil
	}
	return row.Status, nil
}

// SaveTrader upserts a trader row keyed by market slug.
func (s *Store) SaveTrader(ctx context.Context, row TraderRow) error {
	if !s.Available() {
		return fmt.Errorf("store not available")
	}
	if strings.TrimSpace(row.MarketSlug) == "" {
		return fmt.Errorf("market slug required")
	}
	if row.Status == "" {
		row.Status = StatusActive
	}
	if !validStatus(row.Status) {
		return fmt.Errorf("invalid status %q", row.Status)
	}

	existing, err := s.LoadTraderBySlug(ctx, row.MarketSlug)
	if err != nil {
		return err
	}
	if existing != nil {
		updates := map[string]any{
			"budget":            row.Budget,
			"min_gap":           row.MinGap,
			"price_improvement": row.PriceImprovement,
			"order_size":        row.OrderSize,
			"max_inventory":     row.MaxInventory,
			"status":            row.Status,
		}
		return s.db.WithContext(ctx).Model(&TraderRow{}).
			Where("market_slug = ?", row.MarketSlug).
			Updates(updates).Error
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdateTraderStatus flips a trader between active/paused/deleted.
func (s *Store) UpdateTraderStatus(ctx context.Context, marketSlug, status string) error {
	if !s.Available() {
		return fmt.Errorf("store not available")
	}
	if !validStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.db.WithContext(ctx).Model(&TraderRow{}).
		Where("market_slug = ?", marketSlug).
		Update("status", status).Error
}

// DeleteTrader soft-deletes by setting status to deleted.
func (s *Store) DeleteTrader(ctx context.Context, marketSlug string) error {
	return s.UpdateTraderStatus(ctx, marketSlug, StatusDeleted)
}

func (s *Store) TraderIDBySlug(ctx context.Context, marketSlug string) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("store not available")
	}

	var row TraderRow
	err := s.db.WithContext(ctx).Select("id").Where("market_slug = ?", marketSlug).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("trader id %s: %w", marketSlug, err)
	}
	return row.ID, nil
}

func (s *Store) SaveFill(ctx context.Context, fill FillRow) error {
	if !s.Available() {
		return fmt.Errorf("store not available")
	}
	side := strings.ToLower(strings.TrimSpace(fill.Side))
	if side != "buy" && side != "sell" {
		return fmt.Errorf("invalid fill side %q", fill.Side)
	}
	fill.Side = side
	return s.db.WithContext(ctx).Create(&fill).Error
}

func (s *Store) SaveLog(ctx context.Context, entry LogRow) error {
	if !s.Available() {
		return fmt.Errorf("store not available")
	}
	level := strings.ToLower(strings.TrimSpace(entry.Level))
	switch level {
	case "info", "warning", "error", "debug":
	default:
		return fmt.Errorf("invalid log level %q", entry.Level)
	}
	entry.Level = level
	return s.db.WithContext(ctx).Create(&entry).Error
}

func validStatus(status string) bool {
	switch status {
	case StatusActive, StatusPaused, StatusDeleted:
		return true
	}
	return false
}
