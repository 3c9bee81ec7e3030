package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitwit/x402-tron-facilitator/types"
)

const redisKeyPrefix = "x402:settlement:"

// RedisStore keeps settlement records as JSON values keyed by idempotency
// key. SETNX provides the cross-process test-and-set; updates go through
// WATCH so concurrent mutations of the same record cannot clobber each
// other.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, record *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	now := time.Now().UTC()
	stored := cloneRecord(record)
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal settlement record: %w", err)
	}

	created, err := s.client.SetNX(ctx, redisKeyPrefix+record.Key, data, 0).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis setnx: %w", err)
	}
	if created {
		return true, stored, nil
	}

	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*types.SettlementRecord, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var record types.SettlementRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, mutate Mutation) (*types.SettlementRecord, error) {
	redisKey := redisKeyPrefix + key
	var updated *types.SettlementRecord

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, redisKey).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var record types.SettlementRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal settlement record: %w", err)
		}
		if err := mutate(&record); err != nil {
			return err
		}
		record.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, out, 0)
			return nil
		})
		if err == nil {
			updated = &record
		}
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, txn, redisKey)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update contention on key %s", key)
}

func (s *RedisStore) ListByStatus(ctx context.Context, status types.SettlementStatus) ([]*types.SettlementRecord, error) {
	var out []*types.SettlementRecord
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		var record types.SettlementRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settlement record: %w", err)
		}
		if record.Status == status {
			out = append(out, &record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}
