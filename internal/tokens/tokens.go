package tokens

import "github.com/ethereum/go-ethereum/common"

// NativeTokenAddress is the sentinel the payment contract emits when an order
// was paid in the chain's native currency rather than an ERC-20 token.
var NativeTokenAddress = common.Address{}

// Token describes a currency accepted at checkout.
type Token struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
}

// Registry holds all tokens the platform accepts. It is loaded once at startup
// and read-only afterwards.
type Registry struct {
	bySymbol  map[string]*Token
	byAddress map[common.Address]*Token
}

// NewRegistry creates a registry with the platform's supported tokens.
func NewRegistry() *Registry {
	registry := &Registry{
		bySymbol:  make(map[string]*Token),
		byAddress: make(map[common.Address]*Token),
	}

	supported := []*Token{
		{
			Symbol:   "ETH",
			Name:     "Ether",
			Address:  NativeTokenAddress,
			Decimals: 18,
		},
		{
			Symbol:   "USDT",
			Name:     "Tether USD",
			Address:  common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			Decimals: 6,
		},
		{
			Symbol:   "USDC",
			Name:     "USD Coin",
			Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			Decimals: 6,
		},
		{
			Symbol:   "BNB",
			Name:     "BNB",
			Address:  common.HexToAddress("0xB8c77482e45F1F44dE1745F52C74426C631bDD52"),
			Decimals: 18,
		},
	}

	for _, token := range supported {
		registry.bySymbol[token.Symbol] = token
		registry.byAddress[token.Address] = token
	}

	return registry
}

// GetBySymbol returns a token by its symbol.
func (r *Registry) GetBySymbol(symbol string) (*Token, bool) {
	token, exists := r.bySymbol[symbol]
	return token, exists
}

// GetByAddress returns a token by its on-chain contract address.
func (r *Registry) GetByAddress(address common.Address) (*Token, bool) {
	token, exists := r.byAddress[address]
	return token, exists
}

// IsSupported checks if a symbol is accepted at checkout.
func (r *Registry) IsSupported(symbol string) bool {
	_, exists := r.bySymbol[symbol]
	return exists
}

// Symbols returns all supported token symbols.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		symbols = append(symbols, symbol)
	}
	return symbols
}
