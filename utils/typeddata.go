package utils

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/vitwit/x402-tron-facilitator/types"
)

// Domain constants of the upto-scheme transfer authorization. The payer
// wallet signs the same struct, so these must not change between releases.
const (
	typedDataDomainName    = "x402-tron"
	typedDataDomainVersion = "1"
	authorizationType      = "TransferWithAuthorization"
)

// AuthorizationTypedData builds the TIP-712 typed data for a transfer
// authorization. Addresses inside the struct are the 20-byte hex form;
// the verifying contract is the payment token.
func AuthorizationTypedData(auth types.TransferAuthorization, network types.Network, asset string) (apitypes.TypedData, error) {
	chainID := network.ChainID()
	if chainID == 0 {
		return apitypes.TypedData{}, fmt.Errorf("no chain id registered for network %s", network)
	}

	from, err := EthAddressFromTron(auth.From)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("authorization.from: %w", err)
	}
	to, err := EthAddressFromTron(auth.To)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("authorization.to: %w", err)
	}
	token, err := EthAddressFromTron(asset)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("asset: %w", err)
	}

	nonce := strings.TrimPrefix(auth.Nonce, "0x")
	if raw, err := hex.DecodeString(nonce); err != nil || len(raw) != 32 {
		return apitypes.TypedData{}, fmt.Errorf("authorization.nonce must be 32 bytes of hex")
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			authorizationType: []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: authorizationType,
		Domain: apitypes.TypedDataDomain{
			Name:              typedDataDomainName,
			Version:           typedDataDomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        from.Hex(),
			"to":          to.Hex(),
			"value":       auth.Value,
			"validAfter":  strconv.FormatInt(auth.ValidAfter, 10),
			"validBefore": strconv.FormatInt(auth.ValidBefore, 10),
			"nonce":       "0x" + nonce,
		},
	}, nil
}

// AuthorizationDigest computes the final TIP-712 digest the payer signs.
func AuthorizationDigest(auth types.TransferAuthorization, network types.Network, asset string) ([]byte, error) {
	typedData, err := AuthorizationTypedData(auth, network, asset)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// RecoverAuthorizationSigner recovers the base58check address that produced
// the signature over the authorization digest.
func RecoverAuthorizationSigner(auth types.TransferAuthorization, signature string, network types.Network, asset string) (string, error) {
	digest, err := AuthorizationDigest(auth, network, asset)
	if err != nil {
		return "", err
	}

	addr, err := RecoverAddressFromSignature(digest, signature)
	if err != nil {
		return "", err
	}
	return TronAddressFromEth(addr), nil
}

// RecoverAddressFromSignature recovers the secp256k1 address from a 65-byte
// hex signature over a digest.
func RecoverAddressFromSignature(digest []byte, signature string) (common.Address, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Normalize v from 27/28 to 0/1.
	if sigBytes[64] >= 27 {
		sigBytes = append(append([]byte{}, sigBytes[:64]...), sigBytes[64]-27)
	}

	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
