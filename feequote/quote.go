// Package feequote computes the facilitator's service fee for a prospective
// payment from per-network base-fee tables. Quotes are advisory and
// deterministic: the same requirements and context always produce the same
// quote, and assets missing from the table degrade to a flagged zero fee
// instead of failing.
package feequote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/types"
)

// Context is the optional caller-supplied permit context of a quote
// request. Interpretation is policy-defined.
type Context map[string]interface{}

// Policy may adjust a computed quote from the request context. The base
// table remains the source of truth for unlisted assets regardless of
// policy. Policies must be deterministic.
type Policy interface {
	Adjust(quote *types.FeeQuote, ctx Context) *types.FeeQuote
}

// BasePolicy applies the base table only and ignores the context.
type BasePolicy struct{}

func (BasePolicy) Adjust(quote *types.FeeQuote, _ Context) *types.FeeQuote {
	return quote
}

// NetworkFees is one network's fee configuration.
type NetworkFees struct {
	// BaseFees maps asset address to fee in atomic units (base-10 string).
	BaseFees map[string]string

	// PayTo receives the facilitator fee.
	PayTo string
}

// Engine serves fee quotes for registered networks.
type Engine struct {
	networks map[types.Network]NetworkFees
	policy   Policy
	rec      metrics.Recorder
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		networks: make(map[types.Network]NetworkFees),
		policy:   BasePolicy{},
		rec:      metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddNetwork registers the fee table for a network.
func (e *Engine) AddNetwork(network types.Network, fees NetworkFees) error {
	if !network.IsTron() {
		return types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not a Tron network", network))
	}
	if fees.PayTo == "" {
		return fmt.Errorf("fee recipient is required for %s", network)
	}
	e.networks[network] = fees
	return nil
}

// Quote computes the fee for the requirement's asset. An asset missing
// from the base table yields a zero fee with UnknownAsset set; an
// unregistered network is a hard failure.
func (e *Engine) Quote(requirements *types.PaymentRequirements, ctx Context) (*types.FeeQuote, error) {
	network := types.Network(requirements.Network)
	fees, ok := e.networks[network]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("no fee table registered for network %s", requirements.Network))
	}
	e.rec.IncCounter(metrics.CounterFeeQuote, map[string]string{"network": requirements.Network})

	quote := &types.FeeQuote{
		Network: requirements.Network,
		Fees:    map[string]string{},
		PayTo:   fees.PayTo,
	}

	amount, ok := fees.BaseFees[requirements.Asset]
	if !ok {
		quote.Fees[requirements.Asset] = "0"
		quote.Total = "0"
		quote.UnknownAsset = true
		return e.policy.Adjust(quote, ctx), nil
	}

	fee, err := decimal.NewFromString(amount)
	if err != nil || fee.IsNegative() {
		return nil, fmt.Errorf("malformed base fee %q for asset %s", amount, requirements.Asset)
	}

	quote.Fees[requirements.Asset] = fee.String()
	quote.Total = fee.String()
	return e.policy.Adjust(quote, ctx), nil
}
