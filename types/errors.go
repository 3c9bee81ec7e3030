package types

// Reason codes reported to callers. Verification reasons are recoverable:
// the client can correct the payload and retry.
const (
	// -----------------------------
	// VERIFICATION
	// -----------------------------
	ErrNetworkMismatch     = "network_mismatch"
	ErrExpired             = "expired"
	ErrInsufficientAmount  = "insufficient_amount"
	ErrRecipientMismatch   = "recipient_mismatch"
	ErrInvalidSignature    = "invalid_signature"
	ErrAlreadyUsed         = "already_used"
	ErrInvalidPayload      = "invalid_payload"
	ErrInvalidRequirements = "invalid_requirements"

	// -----------------------------
	// SCHEME / NETWORK
	// -----------------------------
	ErrUnsupportedNetwork = "unsupported_network"
	ErrUnsupportedScheme  = "unsupported_scheme"

	// -----------------------------
	// FEE QUOTE (soft)
	// -----------------------------
	ErrUnknownAsset = "unknown_asset"

	// -----------------------------
	// SETTLEMENT
	// -----------------------------
	ErrSettlementInProgress   = "settlement_in_progress"
	ErrSettlementFailed       = "settlement_failed"
	ErrInsufficientFunds      = "insufficient_funds"
	ErrChainSubmissionFailed  = "chain_submission_failed"
	ErrChainTimeout           = "chain_timeout"
	ErrPersistenceUnavailable = "persistence_unavailable"
)

// X402Error is a structured error with a machine-readable code.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *X402Error) Error() string {
	return e.Message
}

// NewError builds an X402Error for a reason code.
func NewError(code, message string) *X402Error {
	return &X402Error{Code: code, Message: message}
}
