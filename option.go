package facilitator

import (
	"github.com/vitwit/x402-tron-facilitator/events"
	"github.com/vitwit/x402-tron-facilitator/feequote"
	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/settlement"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.metrics = r
	}
}

func WithEventPublisher(p events.Publisher) Option {
	return func(f *Facilitator) {
		f.publisherOpt = settlement.WithPublisher(p)
	}
}

func WithFeePolicy(p feequote.Policy) Option {
	return func(f *Facilitator) {
		f.feePolicyOverride = p
	}
}
