package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vitos/trade_alert_engine/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// alertLogModel is the append-only record of raw alert payloads, written
// before execution starts.
type alertLogModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	AlertID   string    `gorm:"column:alert_id;index"`
	Payload   string    `gorm:"column:payload;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (alertLogModel) TableName() string { return "alert_log" }

// Store is the sqlite-backed persistence layer. It serves three read/write
// surfaces: trade reconciliation, the accounts table and the alert log.
type Store struct {
	db *gorm.DB
}

func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// Writers come from the queue loop and the sweep pool at once; WAL plus a
	// tiny pool keeps sqlite from returning SQLITE_BUSY under that load.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)

	if err := db.AutoMigrate(&domain.Trade{}, &domain.Account{}, &alertLogModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations and seeding.
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertTrade writes the trade keyed on order id; an existing row is fully
// replaced so redelivered events converge on the latest state.
func (s *Store) UpsertTrade(ctx context.Context, trade *domain.Trade) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).
		Create(trade).Error
}

func (s *Store) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := s.db.WithContext(ctx).
		Order("updated_time DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

func (s *Store) GetActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&accounts).Error
	return accounts, err
}

// GetAccountByName returns nil without error when the account does not exist;
// the caller decides whether that is fatal.
func (s *Store) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).
		Where("account_name = ?", name).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) AppendAlertLog(ctx context.Context, alertID string, raw []byte) error {
	return s.db.WithContext(ctx).Create(&alertLogModel{
		AlertID:   alertID,
		Payload:   string(raw),
		CreatedAt: time.Now().UTC(),
	}).Error
}
