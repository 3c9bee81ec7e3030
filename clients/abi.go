package clients

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/vitwit/x402-tron-facilitator/types"
	"github.com/vitwit/x402-tron-facilitator/utils"
)

// TRC-20 fragment used by the facilitator: the EIP-3009 style authorized
// transfer plus the read methods verification relies on.
const trc20ABI = `
[
  {
    "name": "transferWithAuthorization",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "validAfter", "type": "uint256" },
      { "name": "validBefore", "type": "uint256" },
      { "name": "nonce", "type": "bytes32" },
      { "name": "v", "type": "uint8" },
      { "name": "r", "type": "bytes32" },
      { "name": "s", "type": "bytes32" }
    ],
    "outputs": []
  },
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [ { "name": "account", "type": "address" } ],
    "outputs": [ { "name": "", "type": "uint256" } ]
  }
]
`

const transferSelector = "transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)"
const balanceOfSelector = "balanceOf(address)"

var parsedTRC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(trc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// SplitSignature splits a 65-byte hex signature into (v, r, s) with v
// normalized to 27/28 as the TRC-20 contracts expect.
func SplitSignature(sigHex string) (v uint8, r [32]byte, s [32]byte, err error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return
	}
	if len(sigBytes) != 65 {
		err = fmt.Errorf("invalid signature length: %d", len(sigBytes))
		return
	}

	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v = sigBytes[64]
	if v < 27 {
		v += 27
	}
	return
}

// packTransferParams ABI-packs the transferWithAuthorization arguments
// without the selector, the form TronGrid expects alongside
// function_selector.
func packTransferParams(call *TransferCall) (string, error) {
	auth := call.Authorization

	from, err := utils.EthAddressFromTron(auth.From)
	if err != nil {
		return "", fmt.Errorf("authorization.from: %w", err)
	}
	to, err := utils.EthAddressFromTron(auth.To)
	if err != nil {
		return "", fmt.Errorf("authorization.to: %w", err)
	}
	value, err := types.ParseAmount(auth.Value)
	if err != nil {
		return "", fmt.Errorf("authorization.value: %w", err)
	}
	nonce, err := hexToBytes32(auth.Nonce)
	if err != nil {
		return "", fmt.Errorf("authorization.nonce: %w", err)
	}
	v, r, s, err := SplitSignature(call.Signature)
	if err != nil {
		return "", fmt.Errorf("signature: %w", err)
	}

	packed, err := parsedTRC20.Methods["transferWithAuthorization"].Inputs.Pack(
		from,
		to,
		value,
		big.NewInt(auth.ValidAfter),
		big.NewInt(auth.ValidBefore),
		nonce,
		v,
		r,
		s,
	)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer arguments: %w", err)
	}
	return hex.EncodeToString(packed), nil
}

func packBalanceOfParams(holder string) (string, error) {
	addr, err := utils.EthAddressFromTron(holder)
	if err != nil {
		return "", err
	}
	packed, err := parsedTRC20.Methods["balanceOf"].Inputs.Pack(addr)
	if err != nil {
		return "", fmt.Errorf("failed to pack balanceOf arguments: %w", err)
	}
	return hex.EncodeToString(packed), nil
}

func unpackBalance(result string) (*big.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid constant result: %w", err)
	}
	out, err := parsedTRC20.Methods["balanceOf"].Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", out[0])
	}
	return balance, nil
}

func hexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func tronHexAddress(addr string) (string, error) {
	payload, err := utils.DecodeTronAddress(addr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(payload), nil
}
