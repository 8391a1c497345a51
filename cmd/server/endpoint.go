package main

import (
	"net/url"
	"strings"
)

// endpointLabel extracts a short identifier from a Solana RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "http://localhost:8899" -> "localhost"
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "quicknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			if provider == "quicknode" {
				return "quiknode"
			}
			return provider
		}
	}

	for _, network := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, network) {
			return network
		}
	}

	return host
}
