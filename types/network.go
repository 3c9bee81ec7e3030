package types

import "strings"

// Network identifies a chain and environment, e.g. "tron:mainnet".
// Every other entity in the facilitator is scoped by it.
type Network string

const (
	NetworkTronMainnet Network = "tron:mainnet"
	NetworkTronNile    Network = "tron:nile"
	NetworkTronShasta  Network = "tron:shasta"
)

// TronChainIDs maps each network to the chain id used in the TIP-712
// signing domain.
var TronChainIDs = map[Network]int64{
	NetworkTronMainnet: 728126428,
	NetworkTronNile:    3448148188,
	NetworkTronShasta:  2494104990,
}

func (n Network) IsTron() bool {
	return strings.HasPrefix(string(n), "tron:")
}

func (n Network) IsTestnet() bool {
	return n == NetworkTronNile || n == NetworkTronShasta
}

// ChainID returns the TIP-712 chain id for the network, or 0 when the
// network is unknown.
func (n Network) ChainID() int64 {
	return TronChainIDs[n]
}

func (n Network) String() string {
	return string(n)
}

// SupportedItem describes one (network, scheme, version) combination the
// facilitator accepts.
type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}
