package solana

import (
	"context"
	"fmt"
	"time"
)

// Genesis hashes of the public clusters.
var genesisHashes = map[string]string{
	"mainnet": "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
	"devnet":  "EtWTRABZaYq6iMfeYKouRu166VU2xqa1wcaWoxPkrZBG",
	"testnet": "4uhcVJyU9pJkvQyS88uRDiswHXSCkY3zQawwpjk2NsNY",
}

// CheckNetwork verifies the endpoint serves the named cluster by comparing
// genesis hashes. Unknown network names (e.g. a local validator) are not checked.
func (c *Client) CheckNetwork(ctx context.Context, network string) error {
	want, ok := genesisHashes[network]
	if !ok {
		return nil
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	got, err := c.rpc.GetGenesisHash(callCtx)
	c.record("GetGenesisHash", start, err)
	if err != nil {
		return classify("GetGenesisHash", err)
	}

	if got.String() != want {
		return fmt.Errorf("%w: expected %s genesis %s, endpoint reports %s", ErrNetworkMismatch, network, want, got)
	}
	return nil
}
