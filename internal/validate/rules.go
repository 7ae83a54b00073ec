package validate

import "github.com/ggonzalez94/defi-compiler/internal/action"

// DependencyRule is a cross-field check that the per-parameter schema cannot
// express. An empty Action matches every action of the protocol.
type DependencyRule struct {
	Protocol string
	Action   string
	Check    func(req action.Request) []Error
}

func (r DependencyRule) Matches(protocol, act string) bool {
	if r.Protocol != protocol {
		return false
	}
	return r.Action == "" || r.Action == act
}

// DefaultRules returns the rules for the built-in protocols.
func DefaultRules() []DependencyRule {
	return []DependencyRule{
		{Protocol: "cowswap", Check: twapNeedsReceiver},
		{Protocol: "uniswap_v3", Action: "deposit", Check: positionsOrTokenPair},
	}
}

func twapNeedsReceiver(req action.Request) []Error {
	twap, _ := req.Params.Bool("twap")
	if !twap || req.Params.Has("receiver") {
		return nil
	}
	return []Error{{
		Parameter: "receiver",
		Message:   "twap orders require an explicit receiver",
		Kind:      KindDependency,
	}}
}

// A liquidity grant addresses either existing positions or a token pair to
// mint new ones from.
func positionsOrTokenPair(req action.Request) []Error {
	if req.Params.Has("targets") {
		return nil
	}
	tokens, _ := req.Params.Strings("tokens")
	if len(tokens) >= 2 {
		return nil
	}
	return []Error{{
		Parameter: "targets",
		Message:   "targets are required unless at least two tokens are given",
		Kind:      KindDependency,
	}}
}
