package id

import "testing"

func TestParseChain(t *testing.T) {
	cases := map[string]string{
		"eth":          "eth",
		"ETH":          "eth",
		"mainnet":      "eth",
		"1":            "eth",
		"eip155:100":   "gno",
		"gnosis":       "gno",
		"arbitrum":     "arb1",
		"42161":        "arb1",
		"oeth":         "oeth",
		"eip155:8453":  "base",
	}
	for in, want := range cases {
		chain, err := ParseChain(in)
		if err != nil {
			t.Fatalf("ParseChain(%s) failed: %v", in, err)
		}
		if chain.Prefix != want {
			t.Fatalf("ParseChain(%s) = %s, want %s", in, chain.Prefix, want)
		}
	}
	if _, err := ParseChain("solana"); err == nil {
		t.Fatal("expected unsupported chain error")
	}
	if _, err := ParseChain(" "); err == nil {
		t.Fatal("expected missing chain error")
	}
}

func TestNativeSymbols(t *testing.T) {
	gno, _ := ParseChain("gno")
	if gno.NativeSymbol != "XDAI" || gno.WrappedSymbol != "WXDAI" {
		t.Fatalf("unexpected gnosis native symbols: %+v", gno)
	}
	eth, _ := ParseChain("eth")
	if eth.WrappedSymbol != "WETH" {
		t.Fatalf("unexpected eth wrapped symbol: %s", eth.WrappedSymbol)
	}
}

func TestIsAddress(t *testing.T) {
	if !IsAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48") {
		t.Fatal("expected mixed-case address to match")
	}
	for _, bad := range []string{"0x123", "A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "0xZZb86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USDC"} {
		if IsAddress(bad) {
			t.Fatalf("unexpected address match for %s", bad)
		}
	}
}

func TestChainPrefixesSorted(t *testing.T) {
	got := ChainPrefixes()
	want := []string{"arb1", "base", "eth", "gno", "oeth"}
	if len(got) != len(want) {
		t.Fatalf("unexpected prefixes: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected prefixes: %v", got)
		}
	}
}
