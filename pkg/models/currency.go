package models

import "sync"

// Family identifies a blockchain protocol category. Every currency belongs
// to exactly one family, and each family has its own transaction shape,
// fee model and bridge implementation.
type Family string

// Supported chain families.
const (
	FamilyBitcoin  Family = "bitcoin"
	FamilyEthereum Family = "ethereum"
	FamilyCosmos   Family = "cosmos"
	FamilyRipple   Family = "ripple"
)

// Unit is a display denomination of a currency. Magnitude is the number of
// decimal digits between this unit and the smallest on-chain denomination.
type Unit struct {
	Name      string
	Code      string
	Magnitude int
}

// Currency describes a chain: its family, derivation coin type and display
// units. Units[0] is always the smallest denomination. Currencies are
// immutable and registered at process start.
type Currency struct {
	ID       string
	Family   Family
	Name     string
	Ticker   string
	CoinType uint32 // BIP-44 coin type
	Units    []Unit
}

// FeeUnit returns the unit used for fee customization: the second unit when
// one exists, otherwise the smallest denomination.
func (c *Currency) FeeUnit() Unit {
	if len(c.Units) > 1 {
		return c.Units[1]
	}
	return c.Units[0]
}

// TokenCurrency describes an asset living under a parent currency, e.g. an
// ERC-20 token. Only registered tokens are materialized as sub-accounts
// during sync; unrecognized assets reported by the chain are dropped.
type TokenCurrency struct {
	ID               string
	ParentCurrencyID string
	Name             string
	Ticker           string
	ContractAddress  string
	Units            []Unit
}

var (
	registryMu sync.RWMutex
	currencies = map[string]*Currency{}
	tokens     = map[string][]*TokenCurrency{} // parent currency id -> tokens
)

// RegisterCurrency adds a currency to the global registry. Meant to be
// called at startup; later registrations with the same id overwrite.
func RegisterCurrency(c *Currency) {
	registryMu.Lock()
	defer registryMu.Unlock()
	currencies[c.ID] = c
}

// CurrencyByID looks up a registered currency.
func CurrencyByID(id string) (*Currency, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := currencies[id]
	return c, ok
}

// RegisterToken adds a token to the registry of its parent currency.
func RegisterToken(t *TokenCurrency) {
	registryMu.Lock()
	defer registryMu.Unlock()
	tokens[t.ParentCurrencyID] = append(tokens[t.ParentCurrencyID], t)
}

// TokensForCurrency returns all tokens registered under a currency.
func TokensForCurrency(currencyID string) []*TokenCurrency {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return tokens[currencyID]
}

// TokenByAddress finds a registered token of a currency by contract address.
func TokenByAddress(currencyID, contractAddress string) (*TokenCurrency, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, t := range tokens[currencyID] {
		if t.ContractAddress == contractAddress {
			return t, true
		}
	}
	return nil, false
}

func init() {
	for _, c := range []*Currency{
		{
			ID: "bitcoin", Family: FamilyBitcoin, Name: "Bitcoin", Ticker: "BTC", CoinType: 0,
			Units: []Unit{{Name: "satoshi", Code: "sat", Magnitude: 0}, {Name: "bitcoin", Code: "BTC", Magnitude: 8}},
		},
		{
			ID: "ethereum", Family: FamilyEthereum, Name: "Ethereum", Ticker: "ETH", CoinType: 60,
			Units: []Unit{{Name: "wei", Code: "wei", Magnitude: 0}, {Name: "gwei", Code: "Gwei", Magnitude: 9}, {Name: "ether", Code: "ETH", Magnitude: 18}},
		},
		{
			ID: "cosmos", Family: FamilyCosmos, Name: "Cosmos", Ticker: "ATOM", CoinType: 118,
			Units: []Unit{{Name: "microatom", Code: "uatom", Magnitude: 0}, {Name: "atom", Code: "ATOM", Magnitude: 6}},
		},
		{
			ID: "ripple", Family: FamilyRipple, Name: "XRP", Ticker: "XRP", CoinType: 144,
			Units: []Unit{{Name: "drop", Code: "drop", Magnitude: 0}, {Name: "XRP", Code: "XRP", Magnitude: 6}},
		},
	} {
		RegisterCurrency(c)
	}
}
