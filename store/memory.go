package store

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/x402-tron-facilitator/types"
)

// MemoryStore is a process-local Store. It is the default for tests and
// single-instance deployments; multi-instance deployments need the Redis or
// Postgres store for a cross-process lease.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*types.SettlementRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.SettlementRecord)}
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, record *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Key]; ok {
		return false, cloneRecord(existing), nil
	}

	now := time.Now().UTC()
	stored := cloneRecord(record)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[record.Key] = stored
	return true, cloneRecord(stored), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*types.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) Update(_ context.Context, key string, mutate Mutation) (*types.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}

	updated := cloneRecord(record)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.records[key] = updated
	return cloneRecord(updated), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status types.SettlementStatus) ([]*types.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.SettlementRecord
	for _, record := range s.records {
		if record.Status == status {
			out = append(out, cloneRecord(record))
		}
	}
	return out, nil
}
