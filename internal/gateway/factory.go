package gateway

import (
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/binance/futures"
)

// Factory builds a venue client from decrypted credentials.
type Factory func(apiKey, apiSecret string) *futures.Client

// DefaultFactory creates mainnet USDT-M futures clients.
func DefaultFactory(apiKey, apiSecret string) *futures.Client {
	return futures.NewClient(futures.Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
}

// TestnetFactory creates testnet USDT-M futures clients.
func TestnetFactory(apiKey, apiSecret string) *futures.Client {
	return futures.NewClient(futures.Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Testnet:   true,
	})
}
