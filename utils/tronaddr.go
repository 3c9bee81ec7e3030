// Package utils provides address and signing-digest helpers shared by the
// verification engine, the settlement state machine and the chain client.
package utils

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// TronAddressPrefix is the version byte of mainnet-format Tron addresses.
const TronAddressPrefix = 0x41

// TronAddressLength is the decoded payload length: prefix + 20-byte body.
const TronAddressLength = 21

// DecodeTronAddress decodes a base58check Tron address into its 21-byte
// payload, validating the checksum and version byte.
func DecodeTronAddress(addr string) ([]byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", addr, err)
	}
	if len(raw) != TronAddressLength+4 {
		return nil, fmt.Errorf("invalid address length: %d", len(raw))
	}
	payload, checksum := raw[:TronAddressLength], raw[TronAddressLength:]
	if !bytes.Equal(checksum, tronChecksum(payload)) {
		return nil, fmt.Errorf("address checksum mismatch for %q", addr)
	}
	if payload[0] != TronAddressPrefix {
		return nil, fmt.Errorf("unexpected address version byte: 0x%02x", payload[0])
	}
	return payload, nil
}

// EncodeTronAddress encodes a 21-byte payload as a base58check address.
func EncodeTronAddress(payload []byte) (string, error) {
	if len(payload) != TronAddressLength {
		return "", fmt.Errorf("address payload must be %d bytes, got %d", TronAddressLength, len(payload))
	}
	return base58.Encode(append(append([]byte{}, payload...), tronChecksum(payload)...)), nil
}

// TronAddressFromEth converts a recovered secp256k1 address to the Tron
// base58check form. Tron derives addresses the same way as Ethereum and
// prepends the 0x41 version byte.
func TronAddressFromEth(addr common.Address) string {
	payload := append([]byte{TronAddressPrefix}, addr.Bytes()...)
	encoded, _ := EncodeTronAddress(payload)
	return encoded
}

// EthAddressFromTron converts a base58check Tron address into the 20-byte
// form used for TIP-712 hashing and ABI packing.
func EthAddressFromTron(addr string) (common.Address, error) {
	payload, err := DecodeTronAddress(addr)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(payload[1:]), nil
}

// IsTronAddress reports whether s is a well-formed base58check Tron address.
func IsTronAddress(s string) bool {
	_, err := DecodeTronAddress(s)
	return err == nil
}

// SameTronAddress compares two base58check addresses by decoded payload.
func SameTronAddress(a, b string) bool {
	pa, err := DecodeTronAddress(a)
	if err != nil {
		return false
	}
	pb, err := DecodeTronAddress(b)
	if err != nil {
		return false
	}
	return bytes.Equal(pa, pb)
}

func tronChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// IdempotencyKey derives the settlement key for a payment intent:
// keccak256(network|payer|nonce), hex encoded without prefix.
func IdempotencyKey(network, payer, nonce string) string {
	digest := crypto.Keccak256([]byte(network + "|" + payer + "|" + nonce))
	return common.Bytes2Hex(digest)
}
