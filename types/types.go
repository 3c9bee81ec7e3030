// Package types defines the wire and domain types of the x402 Tron
// facilitator: payment requirements and payloads, verification and
// settlement results, fee quotes and settlement records.
package types

import (
	"fmt"
	"math/big"
)

// X402Version is the protocol version this facilitator speaks.
const X402Version = 1

// SchemeUpto is the permit-based payment scheme served by this facilitator:
// the payer signs a transfer authorization for up to a given amount and the
// facilitator submits it on-chain.
const SchemeUpto = "upto"

// PaymentRequirements is what a resource server demands for access.
// It is untrusted input; the facilitator re-derives everything it needs
// rather than trusting payload-echoed copies.
type PaymentRequirements struct {
	// Scheme of the payment protocol, e.g. "upto".
	Scheme string `json:"scheme" validate:"required"`

	// Network the payment must settle on, e.g. "tron:nile".
	Network string `json:"network" validate:"required"`

	// MaxAmountRequired is the amount due in atomic units of Asset,
	// as a base-10 string (uint256 range).
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// Asset is the TRC-20 contract address of the payment token,
	// base58check encoded.
	Asset string `json:"asset" validate:"required"`

	// PayTo is the address payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// ExpiresAt is the unix timestamp after which these requirements are
	// no longer payable.
	ExpiresAt int64 `json:"expiresAt" validate:"required"`

	// Nonce ties the requirements to a single resource request.
	Nonce string `json:"nonce" validate:"required"`

	// Resource is the URL of the resource being paid for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`
}

// TransferAuthorization is the TIP-712 struct the payer signs. It is the
// scheme-specific core of a payment payload.
type TransferAuthorization struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	Value       string `json:"value" validate:"required"` // uint256, base-10
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore" validate:"required"`
	Nonce       string `json:"nonce" validate:"required"` // bytes32 hex
}

// PaymentPayload is what a payer presents. Fully untrusted.
type PaymentPayload struct {
	X402Version int    `json:"x402Version" validate:"required"`
	Scheme      string `json:"scheme" validate:"required"`
	Network     string `json:"network" validate:"required"`

	// Payer is the base58check address the signature must resolve to.
	Payer string `json:"payer" validate:"required"`

	// Asset and Amount mirror the signed authorization for quick checks;
	// verification always re-checks against the authorization itself.
	Asset  string `json:"asset" validate:"required"`
	Amount string `json:"amount" validate:"required"`

	Authorization TransferAuthorization `json:"authorization"`

	// Signature is the 65-byte secp256k1 signature over the TIP-712
	// digest of Authorization, hex encoded.
	Signature string `json:"signature" validate:"required"`
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// FeeQuoteRequest is the body of POST /fee/quote.
type FeeQuoteRequest struct {
	Accept               PaymentRequirements    `json:"accept"`
	PaymentPermitContext map[string]interface{} `json:"paymentPermitContext,omitempty"`
}

// VerificationResult reports the outcome of a verification. Reasons use the
// snake_case codes from errors.go; a valid result carries an empty reason.
type VerificationResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResult reports the outcome of a settlement attempt.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// FeeQuote is the facilitator's advisory fee for a prospective payment.
// Amounts are atomic units as base-10 strings. Recomputed per request,
// never stored.
type FeeQuote struct {
	Network string            `json:"network"`
	Fees    map[string]string `json:"fees"`
	Total   string            `json:"total"`
	PayTo   string            `json:"payTo"`

	// UnknownAsset is set when the requirement's asset has no entry in
	// the base-fee table. Advisory, not a failure.
	UnknownAsset bool `json:"unknownAsset,omitempty"`
}

// ParseAmount parses a base-10 atomic amount string, rejecting negatives.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative: %q", s)
	}
	return v, nil
}

// Validate checks that requirements carry every field verification needs.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.ExpiresAt <= 0 {
		return fmt.Errorf("paymentRequirements.expiresAt is required")
	}
	if pr.Nonce == "" {
		return fmt.Errorf("paymentRequirements.nonce is required")
	}
	return nil
}

// Validate checks the structural completeness of a payload. Semantic checks
// belong to the verification engine.
func (pp *PaymentPayload) Validate() error {
	if pp.X402Version != X402Version {
		return fmt.Errorf("unsupported x402Version: %d", pp.X402Version)
	}
	if pp.Scheme == "" {
		return fmt.Errorf("paymentPayload.scheme is required")
	}
	if pp.Network == "" {
		return fmt.Errorf("paymentPayload.network is required")
	}
	if pp.Payer == "" {
		return fmt.Errorf("paymentPayload.payer is required")
	}
	if pp.Signature == "" {
		return fmt.Errorf("paymentPayload.signature is required")
	}
	if pp.Authorization.From == "" || pp.Authorization.To == "" {
		return fmt.Errorf("paymentPayload.authorization is incomplete")
	}
	if pp.Authorization.Nonce == "" {
		return fmt.Errorf("paymentPayload.authorization.nonce is required")
	}
	return nil
}
