package utils

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-tron-facilitator/types"
)

const testPrivKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testAuthorization(t *testing.T, from string) types.TransferAuthorization {
	t.Helper()
	return types.TransferAuthorization{
		From:        from,
		To:          TronAddressFromEth(common.HexToAddress("0x384aa214be0b279cbf211e9b2c992d8633f77848")),
		Value:       "200",
		ValidAfter:  0,
		ValidBefore: 1900000000,
		Nonce:       "0x" + "11" + "2233445566778899aabbccddeeff00112233445566778899aabbccddeeff00",
	}
}

func TestRecoverAuthorizationSigner(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivKeyHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	payer := TronAddressFromEth(crypto.PubkeyToAddress(key.PublicKey))
	asset := TronAddressFromEth(common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"))
	auth := testAuthorization(t, payer)

	digest, err := AuthorizationDigest(auth, types.NetworkTronNile, asset)
	if err != nil {
		t.Fatalf("AuthorizationDigest() error = %v", err)
	}
	if len(digest) != 32 {
		t.Fatalf("expected 32-byte digest, got %d", len(digest))
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("failed to sign digest: %v", err)
	}

	recovered, err := RecoverAuthorizationSigner(auth, "0x"+hex.EncodeToString(sig), types.NetworkTronNile, asset)
	if err != nil {
		t.Fatalf("RecoverAuthorizationSigner() error = %v", err)
	}
	if recovered != payer {
		t.Fatalf("recovered %s, want %s", recovered, payer)
	}

	// Legacy v encoding (27/28) must recover to the same address.
	legacy := append(append([]byte{}, sig[:64]...), sig[64]+27)
	recovered, err = RecoverAuthorizationSigner(auth, "0x"+hex.EncodeToString(legacy), types.NetworkTronNile, asset)
	if err != nil {
		t.Fatalf("RecoverAuthorizationSigner() with legacy v error = %v", err)
	}
	if recovered != payer {
		t.Fatalf("legacy v recovered %s, want %s", recovered, payer)
	}
}

func TestDigestBindsEveryField(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivKeyHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	payer := TronAddressFromEth(crypto.PubkeyToAddress(key.PublicKey))
	asset := TronAddressFromEth(common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"))
	base := testAuthorization(t, payer)

	baseDigest, err := AuthorizationDigest(base, types.NetworkTronNile, asset)
	if err != nil {
		t.Fatalf("AuthorizationDigest() error = %v", err)
	}

	tests := []struct {
		name    string
		auth    func() types.TransferAuthorization
		network types.Network
		asset   string
	}{
		{
			name: "value",
			auth: func() types.TransferAuthorization {
				a := base
				a.Value = "201"
				return a
			},
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name: "recipient",
			auth: func() types.TransferAuthorization {
				a := base
				a.To = TronAddressFromEth(common.HexToAddress("0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1"))
				return a
			},
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name: "valid before",
			auth: func() types.TransferAuthorization {
				a := base
				a.ValidBefore = 1900000001
				return a
			},
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name: "nonce",
			auth: func() types.TransferAuthorization {
				a := base
				a.Nonce = "0x" + "ff" + "2233445566778899aabbccddeeff00112233445566778899aabbccddeeff00"
				return a
			},
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name:    "network",
			auth:    func() types.TransferAuthorization { return base },
			network: types.NetworkTronMainnet,
			asset:   asset,
		},
		{
			name:    "asset",
			auth:    func() types.TransferAuthorization { return base },
			network: types.NetworkTronNile,
			asset:   TronAddressFromEth(common.HexToAddress("0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, err := AuthorizationDigest(tt.auth(), tt.network, tt.asset)
			if err != nil {
				t.Fatalf("AuthorizationDigest() error = %v", err)
			}
			if hex.EncodeToString(digest) == hex.EncodeToString(baseDigest) {
				t.Fatal("mutated authorization produced the same digest")
			}
		})
	}
}

func TestAuthorizationTypedDataRejectsBadInput(t *testing.T) {
	payer := TronAddressFromEth(common.HexToAddress("0x384aa214be0b279cbf211e9b2c992d8633f77848"))
	asset := TronAddressFromEth(common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"))

	tests := []struct {
		name    string
		mutate  func(*types.TransferAuthorization)
		network types.Network
		asset   string
	}{
		{
			name:    "unknown network",
			mutate:  func(a *types.TransferAuthorization) {},
			network: types.Network("tron:unknown"),
			asset:   asset,
		},
		{
			name:    "bad from address",
			mutate:  func(a *types.TransferAuthorization) { a.From = "not-an-address" },
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name:    "short nonce",
			mutate:  func(a *types.TransferAuthorization) { a.Nonce = "0x1234" },
			network: types.NetworkTronNile,
			asset:   asset,
		},
		{
			name:    "bad asset",
			mutate:  func(a *types.TransferAuthorization) {},
			network: types.NetworkTronNile,
			asset:   "garbage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := testAuthorization(t, payer)
			tt.mutate(&auth)
			if _, err := AuthorizationTypedData(auth, tt.network, tt.asset); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRecoverAddressFromSignatureRejectsMalformed(t *testing.T) {
	digest := crypto.Keccak256([]byte("payload"))

	tests := []struct {
		name string
		sig  string
	}{
		{name: "not hex", sig: "0xzz"},
		{name: "too short", sig: "0x" + "ab"},
		{name: "wrong length", sig: "0x" + hex.EncodeToString(make([]byte, 64))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RecoverAddressFromSignature(digest, tt.sig); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
