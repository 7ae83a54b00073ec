package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// ZeroAddress is the EVM zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Chain is a supported EVM network. Prefix is the short chain name used in
// requests and in the permission service paths (eth, gno, arb1, ...).
type Chain struct {
	Name          string
	Prefix        string
	CAIP2         string
	EVMChainID    int64
	NativeSymbol  string
	WrappedSymbol string
}

var chains = []Chain{
	{Name: "Ethereum", Prefix: "eth", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH", WrappedSymbol: "WETH"},
	{Name: "Gnosis", Prefix: "gno", CAIP2: "eip155:100", EVMChainID: 100, NativeSymbol: "XDAI", WrappedSymbol: "WXDAI"},
	{Name: "Arbitrum", Prefix: "arb1", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH", WrappedSymbol: "WETH"},
	{Name: "Optimism", Prefix: "oeth", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH", WrappedSymbol: "WETH"},
	{Name: "Base", Prefix: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH", WrappedSymbol: "WETH"},
}

var chainAliases = map[string]string{
	"ethereum": "eth",
	"mainnet":  "eth",
	"gnosis":   "gno",
	"xdai":     "gno",
	"arbitrum": "arb1",
	"optimism": "oeth",
	"op":       "oeth",
}

var (
	chainByPrefix = func() map[string]Chain {
		out := make(map[string]Chain, len(chains))
		for _, c := range chains {
			out[c.Prefix] = c
		}
		return out
	}()
	chainByID = func() map[int64]Chain {
		out := make(map[int64]Chain, len(chains))
		for _, c := range chains {
			out[c.EVMChainID] = c
		}
		return out
	}()
)

// Chains returns every supported chain ordered by prefix.
func Chains() []Chain {
	out := append([]Chain(nil), chains...)
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// ChainPrefixes returns the sorted list of chain prefixes.
func ChainPrefixes() []string {
	out := make([]string, 0, len(chains))
	for _, c := range Chains() {
		out = append(out, c.Prefix)
	}
	return out
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if alias, ok := chainAliases[norm]; ok {
		norm = alias
	}
	if chain, ok := chainByPrefix[norm]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if n, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[n]; ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain: %s", input))
}

// LookupChain is ParseChain without the error, for table lookups.
func LookupChain(input string) (Chain, bool) {
	c, err := ParseChain(input)
	return c, err == nil
}

// IsAddress reports whether v is 0x followed by exactly 40 hex characters.
func IsAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}

// CanonicalAssetID returns the CAIP-19 identifier of an ERC-20 on chain.
func CanonicalAssetID(chain Chain, address string) string {
	return fmt.Sprintf("%s/erc20:%s", chain.CAIP2, strings.ToLower(strings.TrimSpace(address)))
}
