package normalize

import (
	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

// applyTokenPolicy rewrites native-currency aliases and, when the policy asks
// for it, resolves token symbols to addresses. A policy without fields only
// substitutes native aliases, across the default token-bearing fields.
func (p *Pipeline) applyTokenPolicy(req action.Request) (action.Request, []Warning) {
	cfg, ok := p.reg.Get(req.Protocol)
	if !ok {
		return req, nil
	}
	chain, ok := p.chain(req)
	if !ok {
		return req, nil
	}
	policy := registry.TokenPolicy{}
	if cfg.TokenPolicy != nil {
		policy = *cfg.TokenPolicy
	}
	fields := policy.Fields
	resolve := policy.ResolveAddresses
	if len(fields) == 0 {
		fields = registry.DefaultTokenFields
		resolve = false
	}
	native := policy.NativeSymbol
	if native == "" {
		native = tokens.NativeRepresentative(chain)
	}

	var warnings []Warning
	rewrite := func(field, v string) string {
		if tokens.IsNativeAlias(v, chain) {
			if policy.KeepNative {
				return v
			}
			v = native
		}
		if !resolve {
			return v
		}
		addr, ok := p.resolver.ResolveAddress(v, chain.Prefix)
		if !ok {
			warnings = append(warnings, Warning{
				Stage:     "token_policy",
				Parameter: field,
				Message:   "could not resolve token " + v + " on " + chain.Prefix,
			})
			return v
		}
		return addr
	}

	for _, field := range fields {
		switch v := req.Params[field].(type) {
		case string:
			if v != "" {
				req.Params[field] = rewrite(field, v)
			}
		case []string:
			out := make([]string, len(v))
			for i, item := range v {
				out[i] = rewrite(field, item)
			}
			req.Params[field] = out
		}
	}
	return req, warnings
}
