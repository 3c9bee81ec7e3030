// Package store provides the settlement record store: a keyed store whose
// atomic create-if-absent is the sole serialization point for settlement.
// Three implementations are provided: in-memory (single process), Redis
// (SETNX lease) and Postgres via GORM (primary-key constraint).
package store

import (
	"context"
	"errors"

	"github.com/vitwit/x402-tron-facilitator/types"
)

// ErrNotFound is returned by Get and Update for unknown keys.
var ErrNotFound = errors.New("settlement record not found")

// Mutation transforms a record in place inside an Update call.
type Mutation func(*types.SettlementRecord) error

// Store is the durable settlement record store. Implementations must make
// CreateIfAbsent an atomic test-and-set across all processes sharing the
// store; everything else builds on that guarantee.
type Store interface {
	// CreateIfAbsent inserts the record if no record exists for its key.
	// It reports whether the insert happened; when it did not, the
	// existing record is returned.
	CreateIfAbsent(ctx context.Context, record *types.SettlementRecord) (created bool, existing *types.SettlementRecord, err error)

	// Get fetches a record by key, or ErrNotFound.
	Get(ctx context.Context, key string) (*types.SettlementRecord, error)

	// Update applies the mutation to the stored record atomically and
	// returns the updated record, or ErrNotFound.
	Update(ctx context.Context, key string, mutate Mutation) (*types.SettlementRecord, error)

	// ListByStatus returns all records currently in the given status.
	// Used to resume polling of submitted records after a restart.
	ListByStatus(ctx context.Context, status types.SettlementStatus) ([]*types.SettlementRecord, error)
}

func cloneRecord(r *types.SettlementRecord) *types.SettlementRecord {
	cp := *r
	return &cp
}
