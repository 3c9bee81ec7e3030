// Package settlement drives the on-chain settlement of verified payments
// through a state machine persisted in the settlement record store:
//
//	pending -> submitted -> {confirmed, failed}
//
// The store's atomic create-if-absent is the sole serialization point, so
// at most one in-flight submission exists per idempotency key even across
// process instances. No store lock is held while waiting on the chain;
// polling always resumes from persisted state.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitwit/x402-tron-facilitator/clients"
	"github.com/vitwit/x402-tron-facilitator/events"
	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
	"github.com/vitwit/x402-tron-facilitator/utils"
	"github.com/vitwit/x402-tron-facilitator/verification"
)

// Settler is the contract for payment settlement.
type Settler interface {
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error)
}

// Config tunes the state machine.
type Config struct {
	// RetryFailed allows a fresh settle call to re-lease a failed record
	// under the same idempotency key. Off by default.
	RetryFailed bool

	// PollInterval is the delay between receipt polls.
	PollInterval time.Duration

	// PollBudget bounds receipt polls before the record is marked failed
	// with chain_timeout.
	PollBudget int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollBudget <= 0 {
		c.PollBudget = 20
	}
	return c
}

// SettlementService manages payment settlement across registered networks.
type SettlementService struct {
	clients   map[types.Network]clients.Client
	records   store.Store
	verifier  verification.Verifier
	publisher events.Publisher
	cfg       Config
	log       logger.Logger
	rec       metrics.Recorder

	// keys serializes local goroutines racing the same idempotency key
	// before they reach the store. Latency optimization only; the store
	// lease is the correctness mechanism.
	keys keyedMutex
}

type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) { s.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *SettlementService) { s.rec = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *SettlementService) { s.publisher = p }
}

func NewSettlementService(records store.Store, verifier verification.Verifier, cfg Config, opts ...Option) *SettlementService {
	s := &SettlementService{
		clients:   make(map[types.Network]clients.Client),
		records:   records,
		verifier:  verifier,
		publisher: events.NoopPublisher{},
		cfg:       cfg.withDefaults(),
		log:       logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddClient registers the chain client for a network.
func (s *SettlementService) AddClient(network types.Network, client clients.Client) error {
	if !network.IsTron() {
		return types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not a Tron network", network))
	}
	s.clients[network] = client
	return nil
}

// IsNetworkSupported checks if a network has a settlement client.
func (s *SettlementService) IsNetworkSupported(network types.Network) bool {
	_, ok := s.clients[network]
	return ok
}

// Record fetches the settlement record for an idempotency key.
func (s *SettlementService) Record(ctx context.Context, key string) (*types.SettlementRecord, error) {
	return s.records.Get(ctx, key)
}

// Settle verifies the payment, acquires the idempotency lease and drives
// the transaction to a terminal status. Rejections and conflicts are
// results, not errors; an error return means infrastructure was
// unavailable and nothing was settled.
func (s *SettlementService) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementResult, error) {
	start := time.Now()
	network := types.Network(requirements.Network)
	labels := map[string]string{"network": requirements.Network}
	defer func() {
		s.rec.ObserveLatency(metrics.OpSettle, time.Since(start), labels)
	}()

	client, ok := s.clients[network]
	if !ok {
		return failure(requirements.Network, types.ErrUnsupportedNetwork), nil
	}

	// 1. Re-verify. Settlement never trusts a prior verify call.
	vr, err := s.verifier.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !vr.IsValid {
		return failure(requirements.Network, vr.InvalidReason), nil
	}

	// 2. Acquire the lease.
	key := utils.IdempotencyKey(requirements.Network, payload.Payer, payload.Authorization.Nonce)
	unlock := s.keys.lock(key)
	record, result, err := s.acquireLease(ctx, key, payload, requirements)
	unlock()
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	// 3. Pre-flight against the chain: the payer must hold the authorized
	// value and the contract must accept the transfer as a constant call.
	// Failures here leave the record pending with a reason, so the same
	// key can retry once the payer tops up or the node recovers.
	call := &clients.TransferCall{
		Asset:         requirements.Asset,
		Authorization: payload.Authorization,
		Signature:     payload.Signature,
	}
	balance, err := client.BalanceOf(ctx, call.Asset, payload.Authorization.From)
	if err != nil {
		return s.abortPending(ctx, key, requirements.Network, err, types.ErrChainSubmissionFailed), nil
	}
	if authValue, perr := types.ParseAmount(call.Authorization.Value); perr == nil && balance.Cmp(authValue) < 0 {
		return s.abortPending(ctx, key, requirements.Network,
			fmt.Errorf("payer balance %s below authorized value %s", balance, authValue),
			types.ErrInsufficientFunds), nil
	}
	if err := client.SimulateTransfer(ctx, call); err != nil {
		return s.abortPending(ctx, key, requirements.Network, err, types.ErrSettlementFailed), nil
	}

	// 4. Broadcast while the record is pending. A transport failure
	// leaves the record pending so a later call with the same key can
	// retry; only chain-side rejection is terminal.
	txID, err := client.Broadcast(ctx, call)
	if err != nil {
		return s.abortPending(ctx, key, requirements.Network, err, types.ErrChainSubmissionFailed), nil
	}

	record, err = s.transition(ctx, key, types.SettlementSubmitted, func(r *types.SettlementRecord) {
		r.TxHash = txID
		r.FailureReason = ""
	})
	if err != nil {
		// The transaction is on the wire; surface the submitted state so
		// the caller polls instead of retrying a fresh submission.
		s.log.Error("failed to persist submitted state", map[string]any{"key": key, "txID": txID, "error": err.Error()})
		return &types.SettlementResult{
			Success:     false,
			Transaction: txID,
			Network:     requirements.Network,
			ErrorReason: types.ErrPersistenceUnavailable,
		}, nil
	}
	s.rec.IncCounter(metrics.CounterSettleSubmitted, labels)

	// 5. Poll to finality against persisted state. No locks held here.
	return s.awaitFinality(ctx, client, record)
}

// abortPending notes a pre-broadcast failure on the still-pending record
// and reports it. The record keeps its failure reason, which makes the
// lease re-acquirable by a later settle call for the same key.
func (s *SettlementService) abortPending(ctx context.Context, key, network string, cause error, fallback string) *types.SettlementResult {
	reason := fallback
	var x402Err *types.X402Error
	if errors.As(cause, &x402Err) {
		reason = x402Err.Code
	}
	if _, err := s.records.Update(ctx, key, func(r *types.SettlementRecord) error {
		r.FailureReason = cause.Error()
		return nil
	}); err != nil {
		s.log.Error("failed to note settlement failure", map[string]any{"key": key, "error": err.Error()})
	}
	s.log.Warn("settlement aborted before broadcast", map[string]any{"key": key, "reason": reason, "error": cause.Error()})
	return failure(network, reason)
}

// acquireLease creates the pending record or interprets the existing one.
// Exactly one of (record, result, err) progression applies: a returned
// record means the caller owns the lease; a result short-circuits the call.
func (s *SettlementService) acquireLease(
	ctx context.Context,
	key string,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementRecord, *types.SettlementResult, error) {
	labels := map[string]string{"network": requirements.Network}

	pending := &types.SettlementRecord{
		Key:     key,
		Network: requirements.Network,
		Payer:   payload.Payer,
		Status:  types.SettlementPending,
	}
	created, existing, err := s.records.CreateIfAbsent(ctx, pending)
	if err != nil {
		return nil, nil, types.NewError(types.ErrPersistenceUnavailable,
			fmt.Sprintf("settlement lease unavailable: %v", err))
	}
	if created {
		s.log.Info("settlement lease acquired", map[string]any{"key": key, "network": requirements.Network})
		return existing, nil, nil
	}

	switch existing.Status {
	case types.SettlementConfirmed:
		// Idempotent success: report the stored outcome, no resubmission.
		return nil, &types.SettlementResult{
			Success:     true,
			Transaction: existing.TxHash,
			Network:     existing.Network,
		}, nil

	case types.SettlementPending:
		// A pending record with a failure reason has no broadcast in
		// flight; its last submission died on transport. Re-lease it.
		if existing.FailureReason != "" {
			record, err := s.records.Update(ctx, key, func(r *types.SettlementRecord) error {
				if r.Status != types.SettlementPending || r.FailureReason == "" {
					return fmt.Errorf("record is no longer retryable")
				}
				r.FailureReason = ""
				return nil
			})
			if err == nil {
				s.log.Info("pending settlement re-leased after broadcast failure", map[string]any{"key": key})
				return record, nil, nil
			}
		}
		s.rec.IncCounter(metrics.CounterSettleConflict, labels)
		return nil, &types.SettlementResult{
			Success:     false,
			Transaction: existing.TxHash,
			Network:     existing.Network,
			ErrorReason: types.ErrSettlementInProgress,
		}, nil

	case types.SettlementSubmitted:
		s.rec.IncCounter(metrics.CounterSettleConflict, labels)
		return nil, &types.SettlementResult{
			Success:     false,
			Transaction: existing.TxHash,
			Network:     existing.Network,
			ErrorReason: types.ErrSettlementInProgress,
		}, nil

	case types.SettlementFailed:
		if !s.cfg.RetryFailed {
			return nil, &types.SettlementResult{
				Success:     false,
				Network:     existing.Network,
				ErrorReason: failureReason(existing),
			}, nil
		}
		// Re-lease under the same key. The status guard makes concurrent
		// retry attempts lose deterministically.
		record, err := s.records.Update(ctx, key, func(r *types.SettlementRecord) error {
			if r.Status != types.SettlementFailed {
				return fmt.Errorf("record is %s, not retryable", r.Status)
			}
			r.Status = types.SettlementPending
			r.TxHash = ""
			r.FailureReason = ""
			return nil
		})
		if err != nil {
			s.rec.IncCounter(metrics.CounterSettleConflict, labels)
			return nil, &types.SettlementResult{
				Success:     false,
				Network:     existing.Network,
				ErrorReason: types.ErrSettlementInProgress,
			}, nil
		}
		s.log.Info("failed settlement re-leased", map[string]any{"key": key})
		return record, nil, nil

	default:
		return nil, nil, fmt.Errorf("settlement record %s has unknown status %q", key, existing.Status)
	}
}

// awaitFinality polls the chain until the transaction confirms, is
// rejected, or the poll budget runs out. Caller cancellation returns the
// current submitted state; the transaction may still confirm later and a
// restart resumes from the store.
func (s *SettlementService) awaitFinality(
	ctx context.Context,
	client clients.Client,
	record *types.SettlementRecord,
) (*types.SettlementResult, error) {
	labels := map[string]string{"network": record.Network}

	for attempt := 0; attempt < s.cfg.PollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return &types.SettlementResult{
				Success:     false,
				Transaction: record.TxHash,
				Network:     record.Network,
				ErrorReason: types.ErrSettlementInProgress,
			}, nil
		case <-time.After(s.cfg.PollInterval):
		}

		receipt, err := client.ReceiptOf(ctx, record.TxHash)
		if err != nil {
			s.log.Warn("receipt poll failed", map[string]any{"key": record.Key, "error": err.Error()})
			continue
		}

		switch receipt.Status {
		case clients.TxStatusConfirmed:
			updated, err := s.transition(ctx, record.Key, types.SettlementConfirmed, nil)
			if err != nil {
				return nil, err
			}
			s.rec.IncCounter(metrics.CounterSettleConfirmed, labels)
			return &types.SettlementResult{
				Success:     true,
				Transaction: updated.TxHash,
				Network:     updated.Network,
			}, nil

		case clients.TxStatusRejected:
			reason := receipt.Reason
			if reason == "" {
				reason = types.ErrSettlementFailed
			}
			if _, err := s.transition(ctx, record.Key, types.SettlementFailed, func(r *types.SettlementRecord) {
				r.FailureReason = reason
			}); err != nil {
				return nil, err
			}
			s.rec.IncCounter(metrics.CounterSettleFailed, labels)
			return &types.SettlementResult{
				Success:     false,
				Transaction: record.TxHash,
				Network:     record.Network,
				ErrorReason: reason,
			}, nil
		}
	}

	// Budget exhausted: terminal timeout.
	if _, err := s.transition(ctx, record.Key, types.SettlementFailed, func(r *types.SettlementRecord) {
		r.FailureReason = types.ErrChainTimeout
	}); err != nil {
		return nil, err
	}
	s.rec.IncCounter(metrics.CounterSettleFailed, labels)
	return &types.SettlementResult{
		Success:     false,
		Transaction: record.TxHash,
		Network:     record.Network,
		ErrorReason: types.ErrChainTimeout,
	}, nil
}

// ResumeSubmitted re-polls every submitted record, typically at process
// start after a crash mid-poll. Records reach a terminal status without
// any re-broadcast.
func (s *SettlementService) ResumeSubmitted(ctx context.Context) error {
	records, err := s.records.ListByStatus(ctx, types.SettlementSubmitted)
	if err != nil {
		return fmt.Errorf("failed to list submitted records: %w", err)
	}

	for _, record := range records {
		client, ok := s.clients[types.Network(record.Network)]
		if !ok {
			s.log.Warn("no client for submitted record", map[string]any{"key": record.Key, "network": record.Network})
			continue
		}
		s.log.Info("resuming submitted settlement", map[string]any{"key": record.Key, "txID": record.TxHash})
		if _, err := s.awaitFinality(ctx, client, record); err != nil {
			s.log.Error("resume failed", map[string]any{"key": record.Key, "error": err.Error()})
		}
	}
	return nil
}

// transition moves a record to the next status, publishing the event.
func (s *SettlementService) transition(
	ctx context.Context,
	key string,
	next types.SettlementStatus,
	apply func(*types.SettlementRecord),
) (*types.SettlementRecord, error) {
	updated, err := s.records.Update(ctx, key, func(r *types.SettlementRecord) error {
		if r.Status.Terminal() {
			return fmt.Errorf("record %s already terminal (%s)", key, r.Status)
		}
		r.Status = next
		if apply != nil {
			apply(r)
		}
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceUnavailable,
			fmt.Sprintf("failed to persist %s transition: %v", next, err))
	}

	s.publisher.PublishSettlementEvent(events.SettlementEvent{
		Key:       updated.Key,
		Network:   updated.Network,
		Status:    updated.Status,
		TxHash:    updated.TxHash,
		Reason:    updated.FailureReason,
		Timestamp: updated.UpdatedAt,
	})
	return updated, nil
}

// Close closes all chain clients.
func (s *SettlementService) Close() {
	for _, client := range s.clients {
		client.Close()
	}
}

func failure(network, reason string) *types.SettlementResult {
	return &types.SettlementResult{Success: false, Network: network, ErrorReason: reason}
}

func failureReason(record *types.SettlementRecord) string {
	if record.FailureReason != "" {
		return record.FailureReason
	}
	return types.ErrSettlementFailed
}

// keyedMutex hands out one mutex per idempotency key.
type keyedMutex struct {
	mu sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.mu.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
