// Package facilitator implements an x402 payment facilitator for the Tron
// network family: it verifies signed payment payloads against payment
// requirements, quotes facilitator fees, and settles verified payments
// on-chain with at-most-once semantics per payment intent.
package facilitator

import (
	"context"

	"github.com/vitwit/x402-tron-facilitator/clients"
	"github.com/vitwit/x402-tron-facilitator/feequote"
	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/settlement"
	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
	"github.com/vitwit/x402-tron-facilitator/verification"
)

// Facilitator is the main entry point wiring verification, fee quoting and
// settlement for a set of registered networks.
type Facilitator struct {
	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService
	feeEngine           *feequote.Engine
	records             store.Store

	supported []types.SupportedItem

	logger  logger.Logger
	metrics metrics.Recorder

	publisherOpt      settlement.Option
	feePolicyOverride feequote.Policy
}

// NetworkRegistration is everything needed to serve one network.
type NetworkRegistration struct {
	Client clients.Client
	Fees   feequote.NetworkFees
}

// New creates a Facilitator backed by the given settlement record store.
func New(records store.Store, settlementCfg settlement.Config, opts ...Option) *Facilitator {
	f := &Facilitator{
		records: records,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(f)
	}

	f.verificationService = verification.NewVerificationService(records,
		verification.WithLogger(f.logger),
		verification.WithMetrics(f.metrics),
	)
	f.feeEngine = feequote.NewEngine(
		feequote.WithMetrics(f.metrics),
		feequote.WithPolicy(f.feePolicy()),
	)
	settlementOpts := []settlement.Option{
		settlement.WithLogger(f.logger),
		settlement.WithMetrics(f.metrics),
	}
	if f.publisherOpt != nil {
		settlementOpts = append(settlementOpts, f.publisherOpt)
	}
	f.settlementService = settlement.NewSettlementService(records, f.verificationService, settlementCfg, settlementOpts...)

	return f
}

// AddNetwork registers a network with its chain client and fee table.
func (f *Facilitator) AddNetwork(network types.Network, reg NetworkRegistration) error {
	if err := f.verificationService.AddNetwork(network); err != nil {
		return err
	}
	if err := f.settlementService.AddClient(network, reg.Client); err != nil {
		return err
	}
	if err := f.feeEngine.AddNetwork(network, reg.Fees); err != nil {
		return err
	}

	f.supported = append(f.supported, types.SupportedItem{
		X402Version: types.X402Version,
		Scheme:      types.SchemeUpto,
		Network:     network.String(),
	})
	f.logger.Info("network registered", map[string]any{"network": network.String()})
	return nil
}

// Verify verifies a payment payload against requirements.
func (f *Facilitator) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error) {
	return f.verificationService.Verify(ctx, payload, requirements)
}

// Settle settles a verified payment on-chain.
func (f *Facilitator) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error) {
	return f.settlementService.Settle(ctx, payload, requirements)
}

// FeeQuote computes the facilitator fee for prospective requirements.
func (f *Facilitator) FeeQuote(requirements *types.PaymentRequirements, permitCtx map[string]interface{}) (*types.FeeQuote, error) {
	return f.feeEngine.Quote(requirements, feequote.Context(permitCtx))
}

// Supported lists the (network, scheme, version) kinds the facilitator
// accepts.
func (f *Facilitator) Supported() *types.SupportedResponse {
	kinds := make([]types.SupportedItem, len(f.supported))
	copy(kinds, f.supported)
	return &types.SupportedResponse{Kinds: kinds}
}

// Payment returns the settlement record for an idempotency key.
func (f *Facilitator) Payment(ctx context.Context, key string) (*types.SettlementRecord, error) {
	return f.settlementService.Record(ctx, key)
}

// IsNetworkSupported checks if a network is fully registered.
func (f *Facilitator) IsNetworkSupported(network types.Network) bool {
	return f.verificationService.IsNetworkSupported(network) &&
		f.settlementService.IsNetworkSupported(network)
}

// ResumeSubmitted re-polls settlements left submitted by a previous run.
func (f *Facilitator) ResumeSubmitted(ctx context.Context) error {
	return f.settlementService.ResumeSubmitted(ctx)
}

// Close closes all chain clients.
func (f *Facilitator) Close() {
	f.settlementService.Close()
}

func (f *Facilitator) feePolicy() feequote.Policy {
	if f.feePolicyOverride != nil {
		return f.feePolicyOverride
	}
	return feequote.BasePolicy{}
}
