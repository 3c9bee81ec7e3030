// Package metrics defines the recorder interface for facilitator
// observability and its Prometheus implementation.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and operation names recorded by the facilitator core.
const (
	CounterVerify          = "verify"
	CounterVerifyInvalid   = "verify_invalid"
	CounterSettleSubmitted = "settle_submitted"
	CounterSettleConfirmed = "settle_confirmed"
	CounterSettleFailed    = "settle_failed"
	CounterSettleConflict  = "settle_conflict"
	CounterFeeQuote        = "fee_quote"

	OpVerify    = "verify"
	OpSettle    = "settle"
	OpQuote     = "fee_quote"
	OpBroadcast = "broadcast"
	OpPoll      = "receipt_poll"
)
