package types

import "time"

// SettlementStatus is the lifecycle state of a settlement record.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSubmitted SettlementStatus = "submitted"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementConfirmed || s == SettlementFailed
}

// SettlementRecord is the durable audit record of one payment intent.
// Records are keyed by idempotency key, owned by the settlement state
// machine and never deleted.
type SettlementRecord struct {
	// Key is the idempotency key: keccak256(network|payer|nonce), hex.
	Key string `json:"key" gorm:"primaryKey;size:64"`

	Network string           `json:"network" gorm:"size:32;not null"`
	Payer   string           `json:"payer" gorm:"size:64;not null"`
	Status  SettlementStatus `json:"status" gorm:"size:16;not null"`

	// TxHash is empty until the broadcast is accepted.
	TxHash string `json:"txHash,omitempty" gorm:"size:64;index"`

	// FailureReason is set on failed records and on pending records whose
	// last broadcast attempt hit a transport error.
	FailureReason string `json:"failureReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName keeps the GORM store on the audit table name used by the
// service's migrations.
func (SettlementRecord) TableName() string {
	return "settlement_records"
}
