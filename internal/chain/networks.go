// Package chain holds the EVM plumbing shared by the deposit watcher, the
// credit issuer and the share minter: network profiles, contract ABIs,
// transaction submission and receipt confirmation.
package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// Network is a chain profile the bridge knows how to talk to.
type Network struct {
	Name         string
	DisplayName  string
	ChainID      int64
	RPCURL       string
	NativeSymbol string
	Explorer     string
}

// TxURL returns the explorer link for a transaction, or "" when the network
// has no explorer configured.
func (n Network) TxURL(txHash string) string {
	if n.Explorer == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer, "/") + "/tx/" + txHash
}

var networks = map[string]Network{
	"arbitrum": {
		Name:         "arbitrum",
		DisplayName:  "Arbitrum One",
		ChainID:      42161,
		RPCURL:       "https://arb1.arbitrum.io/rpc",
		NativeSymbol: "ETH",
		Explorer:     "https://arbiscan.io",
	},
	"arbitrum_sepolia": {
		Name:         "arbitrum_sepolia",
		DisplayName:  "Arbitrum Sepolia",
		ChainID:      421614,
		RPCURL:       "https://sepolia-rollup.arbitrum.io/rpc",
		NativeSymbol: "ETH",
		Explorer:     "https://sepolia.arbiscan.io",
	},
	"chiliz_spicy": {
		Name:         "chiliz_spicy",
		DisplayName:  "Chiliz Spicy Testnet",
		ChainID:      88882,
		RPCURL:       "https://spicy-rpc.chiliz.com/",
		NativeSymbol: "CHZ",
		Explorer:     "https://testnet.chiliscan.com",
	},
	"zircuit_garfield": {
		Name:         "zircuit_garfield",
		DisplayName:  "Zircuit Garfield Testnet",
		ChainID:      48898,
		RPCURL:       "https://garfield-testnet.zircuit.com",
		NativeSymbol: "ETH",
		Explorer:     "https://explorer.testnet.zircuit.com",
	},
}

// LookupNetwork returns the profile registered under name. Lookup is
// case-insensitive.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("chain: %w: %q (known: %s)",
			domain.ErrUnknownNetwork, name, strings.Join(NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames lists the registered profile names in sorted order.
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for k := range networks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithRPC returns a copy of n pointing at rpcURL when it is non-empty.
func (n Network) WithRPC(rpcURL string) Network {
	if rpcURL != "" {
		n.RPCURL = rpcURL
	}
	return n
}
