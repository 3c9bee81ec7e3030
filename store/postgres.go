package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitwit/x402-tron-facilitator/types"
)

// PostgresStore persists settlement records in Postgres through GORM. The
// primary-key constraint on the idempotency key is the cross-process
// test-and-set; record creation is an insert that does nothing on conflict.
type PostgresStore struct {
	db *gorm.DB
}

// PoolConfig tunes the underlying sql.DB connection pool. Zero values keep
// the driver defaults.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int

	// MaxLifetime is the connection max lifetime in seconds.
	MaxLifetime int
}

// sqlPool is the subset of sql.DB the pool settings touch.
type sqlPool interface {
	SetMaxOpenConns(int)
	SetMaxIdleConns(int)
	SetConnMaxLifetime(time.Duration)
}

func applyPool(db sqlPool, pool PoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(pool.MaxLifetime) * time.Second)
	}
}

// NewPostgresStore opens a connection, applies the pool settings and
// migrates the settlement table.
func NewPostgresStore(dsn string, pool PoolConfig) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect settlement db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access settlement db pool: %w", err)
	}
	applyPool(sqlDB, pool)
	if err := db.AutoMigrate(&types.SettlementRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settlement records: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing GORM handle. Used by tests and
// by deployments that manage pooling themselves.
func NewPostgresStoreWithDB(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, record *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	stored := cloneRecord(record)

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(stored)
	if res.Error != nil {
		return false, nil, fmt.Errorf("failed to insert settlement record: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, stored, nil
	}

	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*types.SettlementRecord, error) {
	var record types.SettlementRecord
	err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement record: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, mutate Mutation) (*types.SettlementRecord, error) {
	var updated *types.SettlementRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record types.SettlementRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := mutate(&record); err != nil {
			return err
		}
		if err := tx.Save(&record).Error; err != nil {
			return err
		}
		updated = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status types.SettlementStatus) ([]*types.SettlementRecord, error) {
	var records []*types.SettlementRecord
	if err := s.db.WithContext(ctx).Find(&records, "status = ?", status).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlement records: %w", err)
	}
	return records, nil
}
