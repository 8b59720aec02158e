package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to rpcURL and, when want.ChainID is set, checks that the
// endpoint serves that chain.
func Dial(ctx context.Context, rpcURL string, want Network) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	if want.ChainID == 0 {
		return client, nil
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: chain id from %s: %w", rpcURL, err)
	}
	if id.Int64() != want.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain: %s serves chain %s, expected %s (%d)",
			rpcURL, id, want.Name, want.ChainID)
	}
	return client, nil
}
