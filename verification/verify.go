// Package verification implements the payment verification engine: a pure,
// read-only sequence of checks of a payment payload against payment
// requirements. It never mutates state, so verify and settle can be issued
// as separate calls against the same inputs.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
	"github.com/vitwit/x402-tron-facilitator/utils"
)

// Verifier is the contract for payment verification.
type Verifier interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error)
}

// VerificationService runs the ordered verification checks for registered
// networks. The settlement record store is consulted read-only for replay
// detection.
type VerificationService struct {
	networks map[types.Network]struct{}
	records  store.Store
	log      logger.Logger
	rec      metrics.Recorder

	// now is swappable for expiry tests.
	now func() time.Time
}

type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) { s.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) { s.rec = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *VerificationService) { s.now = now }
}

func NewVerificationService(records store.Store, opts ...Option) *VerificationService {
	s := &VerificationService{
		networks: make(map[types.Network]struct{}),
		records:  records,
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddNetwork registers a network the service verifies payments for.
func (s *VerificationService) AddNetwork(network types.Network) error {
	if !network.IsTron() || network.ChainID() == 0 {
		return types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not a registered Tron network", network))
	}
	s.networks[network] = struct{}{}
	return nil
}

// IsNetworkSupported checks if a network is registered.
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	_, ok := s.networks[network]
	return ok
}

// Networks returns all registered networks.
func (s *VerificationService) Networks() []types.Network {
	out := make([]types.Network, 0, len(s.networks))
	for n := range s.networks {
		out = append(out, n)
	}
	return out
}

// Verify checks a payload against requirements. Checks run in a fixed
// order and short-circuit on the first failure; each failure maps to one
// reason code. Failures are results, never errors: an error return means
// the check itself could not run (e.g. store unavailable).
func (s *VerificationService) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	start := time.Now()
	labels := map[string]string{"network": requirements.Network}
	defer func() {
		s.rec.ObserveLatency(metrics.OpVerify, time.Since(start), labels)
	}()
	s.rec.IncCounter(metrics.CounterVerify, labels)

	result, err := s.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		s.rec.IncCounter(metrics.CounterVerifyInvalid, labels)
		s.log.Debug("verification rejected", map[string]any{
			"network": requirements.Network,
			"reason":  result.InvalidReason,
		})
	}
	return result, nil
}

func (s *VerificationService) verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if err := payload.Validate(); err != nil {
		return invalid(types.ErrInvalidPayload), nil
	}
	if err := requirements.Validate(); err != nil {
		return invalid(types.ErrInvalidRequirements), nil
	}
	if requirements.Scheme != types.SchemeUpto || payload.Scheme != types.SchemeUpto {
		return invalid(types.ErrUnsupportedScheme), nil
	}
	if !s.IsNetworkSupported(types.Network(requirements.Network)) {
		return invalid(types.ErrUnsupportedNetwork), nil
	}

	// 1. Network match.
	if payload.Network != requirements.Network {
		return invalid(types.ErrNetworkMismatch), nil
	}
	network := types.Network(requirements.Network)

	// 2. Expiry: both the requirements and the signed validity window.
	now := s.now().Unix()
	if requirements.ExpiresAt <= now {
		return invalid(types.ErrExpired), nil
	}
	auth := payload.Authorization
	if auth.ValidBefore <= now || auth.ValidAfter > now {
		return invalid(types.ErrExpired), nil
	}

	// 3. Asset and amount. The signed authorization value is what settles
	// on-chain, so it is checked alongside the payload-level amount.
	if !utils.SameTronAddress(payload.Asset, requirements.Asset) {
		return invalid(types.ErrInsufficientAmount), nil
	}
	required, err := types.ParseAmount(requirements.MaxAmountRequired)
	if err != nil {
		return invalid(types.ErrInvalidRequirements), nil
	}
	offered, err := types.ParseAmount(payload.Amount)
	if err != nil {
		return invalid(types.ErrInvalidPayload), nil
	}
	authValue, err := types.ParseAmount(auth.Value)
	if err != nil {
		return invalid(types.ErrInvalidPayload), nil
	}
	if offered.Cmp(required) < 0 || authValue.Cmp(required) < 0 {
		return invalid(types.ErrInsufficientAmount), nil
	}

	// 4. Recipient: the signed authorization must pay requirements.payTo.
	if !utils.SameTronAddress(auth.To, requirements.PayTo) {
		return invalid(types.ErrRecipientMismatch), nil
	}

	// 5. Signature must resolve to the claimed payer, who must also be
	// the authorization's from address.
	if !utils.SameTronAddress(auth.From, payload.Payer) {
		return invalid(types.ErrInvalidSignature), nil
	}
	recovered, err := utils.RecoverAuthorizationSigner(auth, payload.Signature, network, requirements.Asset)
	if err != nil || !utils.SameTronAddress(recovered, payload.Payer) {
		return invalid(types.ErrInvalidSignature), nil
	}

	// 6. Replay: a nonce that already settled cannot be presented again.
	// In-flight (pending/submitted) intents are the settlement state
	// machine's concern, not a verification failure.
	key := utils.IdempotencyKey(requirements.Network, payload.Payer, auth.Nonce)
	record, err := s.records.Get(ctx, key)
	if err != nil && err != store.ErrNotFound {
		return nil, types.NewError(types.ErrPersistenceUnavailable,
			fmt.Sprintf("replay check unavailable: %v", err))
	}
	if record != nil && record.Status == types.SettlementConfirmed {
		return invalid(types.ErrAlreadyUsed), nil
	}

	return &types.VerificationResult{IsValid: true, Payer: payload.Payer}, nil
}

func invalid(reason string) *types.VerificationResult {
	return &types.VerificationResult{IsValid: false, InvalidReason: reason}
}
