// Package signer holds the facilitator's signing credential behind a
// capability interface so the credential never leaks into call sites and
// tests can substitute a deterministic signer.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-tron-facilitator/utils"
)

// Signer signs 32-byte digests on behalf of the facilitator.
type Signer interface {
	// Sign produces a 65-byte recoverable signature over the digest.
	Sign(digest []byte) ([]byte, error)

	// Address is the facilitator's base58check address for this credential.
	Address() string
}

// LocalSigner is a Signer backed by an in-process secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewLocalSigner parses a hex private key (with or without 0x prefix).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: utils.TronAddressFromEth(crypto.PubkeyToAddress(key.PublicKey)),
	}, nil
}

func (s *LocalSigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

func (s *LocalSigner) Address() string {
	return s.address
}

// SignHex is a convenience wrapper returning the signature hex encoded.
func SignHex(s Signer, digest []byte) (string, error) {
	sig, err := s.Sign(digest)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}
