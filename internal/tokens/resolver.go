package tokens

import (
	"fmt"
	"strings"
	"sync/atomic"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/id"
)

type symbolKey struct {
	chainID int64
	symbol  string
}

type addressKey struct {
	chainID int64
	address string
}

type tables struct {
	bySymbol  map[symbolKey]TokenInfo
	byAddress map[addressKey]TokenInfo
}

// Resolver answers symbol, address and native-alias queries. Lookup tables
// are immutable once published; Refresh builds new ones and swaps them in.
type Resolver struct {
	current atomic.Pointer[tables]
}

func NewResolver(cat Catalogue) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Refresh(cat); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns a resolver over the built-in catalogue.
func Default() *Resolver {
	r, err := NewResolver(BuiltinCatalogue())
	if err != nil {
		panic(err)
	}
	return r
}

// Refresh re-indexes cat and publishes the result. On error the previous
// tables stay in place.
func (r *Resolver) Refresh(cat Catalogue) error {
	if err := cat.Validate(); err != nil {
		return err
	}
	next, err := buildTables(cat)
	if err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

func buildTables(cat Catalogue) (*tables, error) {
	t := &tables{
		bySymbol:  make(map[symbolKey]TokenInfo, len(cat.Tokens)),
		byAddress: make(map[addressKey]TokenInfo, len(cat.Tokens)),
	}
	for _, tok := range cat.Tokens {
		tok.Address = strings.TrimSpace(tok.Address)
		tok.Symbol = strings.TrimSpace(tok.Symbol)
		sk := symbolKey{chainID: tok.ChainID, symbol: strings.ToUpper(tok.Symbol)}
		ak := addressKey{chainID: tok.ChainID, address: strings.ToLower(tok.Address)}
		if prev, ok := t.bySymbol[sk]; ok && !strings.EqualFold(prev.Address, tok.Address) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %d (%s, %s)", tok.Symbol, tok.ChainID, prev.Address, tok.Address))
		}
		if prev, ok := t.byAddress[ak]; ok && !strings.EqualFold(prev.Symbol, tok.Symbol) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("address %s listed twice on chain %d", tok.Address, tok.ChainID))
		}
		t.bySymbol[sk] = tok
		t.byAddress[ak] = tok
	}
	return t, nil
}

// Len returns the number of indexed tokens.
func (r *Resolver) Len() int {
	return len(r.current.Load().byAddress)
}

// IsNativeAlias reports whether token names the chain's native currency.
// "native" always does; "eth" and "ether" only on ETH-native chains; the
// chain's own native symbol (XDAI on Gnosis) always does.
func IsNativeAlias(token string, chain id.Chain) bool {
	norm := strings.ToLower(strings.TrimSpace(token))
	switch norm {
	case "native":
		return true
	case "eth", "ether":
		return chain.NativeSymbol == "ETH"
	}
	return norm != "" && norm == strings.ToLower(chain.NativeSymbol)
}

// NativeRepresentative is the wrapped-token symbol used where native value
// cannot appear in an ERC-20 shaped field.
func NativeRepresentative(chain id.Chain) string {
	return chain.WrappedSymbol
}

// ResolveAddress resolves a native alias, address or symbol to an address.
// Unresolvable input is returned unchanged with ok=false.
func (r *Resolver) ResolveAddress(token, chain string) (string, bool) {
	raw := strings.TrimSpace(token)
	c, ok := id.LookupChain(chain)
	if !ok {
		return token, false
	}
	if IsNativeAlias(raw, c) {
		if info, ok := r.lookupSymbol(c.EVMChainID, NativeRepresentative(c)); ok {
			return info.Address, true
		}
		return NativeRepresentative(c), false
	}
	if id.IsAddress(raw) {
		return raw, true
	}
	if info, ok := r.lookupSymbol(c.EVMChainID, raw); ok {
		return info.Address, true
	}
	return token, false
}

// GetInfo looks a token up by symbol or address. There is no native-alias
// fallback.
func (r *Resolver) GetInfo(symbolOrAddress, chain string) (TokenInfo, bool) {
	c, ok := id.LookupChain(chain)
	if !ok {
		return TokenInfo{}, false
	}
	raw := strings.TrimSpace(symbolOrAddress)
	if id.IsAddress(raw) {
		info, ok := r.current.Load().byAddress[addressKey{chainID: c.EVMChainID, address: strings.ToLower(raw)}]
		return info, ok
	}
	return r.lookupSymbol(c.EVMChainID, raw)
}

func (r *Resolver) lookupSymbol(chainID int64, symbol string) (TokenInfo, bool) {
	info, ok := r.current.Load().bySymbol[symbolKey{chainID: chainID, symbol: strings.ToUpper(symbol)}]
	return info, ok
}

// Tokens returns every token on chain.
func (r *Resolver) Tokens(chain string) []TokenInfo {
	c, ok := id.LookupChain(chain)
	if !ok {
		return nil
	}
	out := []TokenInfo{}
	for k, info := range r.current.Load().byAddress {
		if k.chainID == c.EVMChainID {
			out = append(out, info)
		}
	}
	sortTokens(out)
	return out
}
