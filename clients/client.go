// Package clients wraps read/write access to the Tron network behind a
// narrow interface the verification engine and settlement state machine
// consume. The production implementation speaks the TronGrid HTTP API.
package clients

import (
	"context"
	"math/big"

	"github.com/vitwit/x402-tron-facilitator/types"
)

// TransferCall is one transferWithAuthorization submission: the payer's
// signed authorization executed against a TRC-20 asset.
type TransferCall struct {
	Asset         string
	Authorization types.TransferAuthorization

	// Signature is the payer's 65-byte authorization signature, hex.
	Signature string
}

// TxStatus is the chain-side state of a broadcast transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusRejected  TxStatus = "rejected"
)

// Receipt is the polled outcome of a transaction.
type Receipt struct {
	TxID   string
	Status TxStatus

	// Reason carries the rejection message for rejected transactions.
	Reason string
}

// Client is the chain access the facilitator core needs. Broadcast and
// ReceiptOf may block on network latency; callers must not hold store
// locks across them.
type Client interface {
	// BalanceOf reads the TRC-20 balance of holder in atomic units.
	BalanceOf(ctx context.Context, asset, holder string) (*big.Int, error)

	// SimulateTransfer runs the transfer as a constant call, returning an
	// error when the contract would reject it.
	SimulateTransfer(ctx context.Context, call *TransferCall) error

	// Broadcast signs and submits the transfer, returning the transaction
	// id accepted by the network.
	Broadcast(ctx context.Context, call *TransferCall) (string, error)

	// ReceiptOf reports the current status of a broadcast transaction.
	ReceiptOf(ctx context.Context, txID string) (*Receipt, error)

	// Network is the network this client serves.
	Network() types.Network

	Close()
}
