package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
)

type canonicalizer func(p *Pipeline, cfg registry.ProtocolConfig, req action.Request) (action.Request, []Warning)

var canonicalizers = map[string][]canonicalizer{
	"uniswap_v3": {feeTiers("fees")},
	"aave_v3":    {marketName("market")},
	"spark":      {marketName("market")},
}

func (p *Pipeline) canonicalizeValues(req action.Request) (action.Request, []Warning) {
	cfg, ok := p.reg.Get(req.Protocol)
	if !ok {
		return req, nil
	}
	var warnings []Warning
	for _, fn := range canonicalizers[cfg.ID] {
		var w []Warning
		req, w = fn(p, cfg, req)
		warnings = append(warnings, w...)
	}
	return req, warnings
}

var (
	hundred     = decimal.NewFromInt(100)
	tierDivisor = decimal.NewFromInt(10000)
	tierValues  = func() []decimal.Decimal {
		out := make([]decimal.Decimal, len(registry.FeeTiers))
		for i, tier := range registry.FeeTiers {
			out[i] = decimal.RequireFromString(strings.TrimSuffix(tier, "%"))
		}
		return out
	}()
)

// CanonicalFeeTier maps "0.3%", 3000 (hundredths of a basis point) or 0.003
// (a fraction) onto one of the canonical percent tiers.
func CanonicalFeeTier(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	var candidates []decimal.Decimal
	if strings.HasSuffix(s, "%") {
		d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%")))
		if err != nil {
			return "", false
		}
		candidates = []decimal.Decimal{d}
	} else {
		d, err := decimal.NewFromString(s)
		if err != nil || d.IsNegative() {
			return "", false
		}
		if d.GreaterThanOrEqual(decimal.NewFromInt(1)) && d.IsInteger() {
			candidates = []decimal.Decimal{d.Div(tierDivisor), d}
		} else {
			candidates = []decimal.Decimal{d.Mul(hundred), d}
		}
	}
	for _, c := range candidates {
		for i, tier := range tierValues {
			if c.Equal(tier) {
				return registry.FeeTiers[i], true
			}
		}
	}
	return "", false
}

func feeTiers(field string) canonicalizer {
	return func(_ *Pipeline, _ registry.ProtocolConfig, req action.Request) (action.Request, []Warning) {
		values, ok := req.Params[field].([]string)
		if !ok || len(values) == 0 {
			return req, nil
		}
		var warnings []Warning
		out := make([]string, 0, len(values))
		seen := map[string]bool{}
		for _, v := range values {
			tier, ok := CanonicalFeeTier(v)
			if !ok {
				warnings = append(warnings, Warning{
					Stage:     "canonicalize",
					Parameter: field,
					Message:   "dropped unknown fee tier " + v,
				})
				continue
			}
			if !seen[tier] {
				seen[tier] = true
				out = append(out, tier)
			}
		}
		if len(out) == 0 {
			return req, warnings
		}
		req.Params[field] = out
		return req, warnings
	}
}

// marketName restores the canonical casing of a named market, preferring the
// chain deployment and falling back to the schema enumeration.
func marketName(field string) canonicalizer {
	return func(_ *Pipeline, cfg registry.ProtocolConfig, req action.Request) (action.Request, []Warning) {
		raw, ok := req.Params[field].(string)
		if !ok || raw == "" {
			return req, nil
		}
		if d, ok := cfg.Deployment(req.Chain); ok {
			if name, _, ok := d.Market(raw); ok {
				req.Params[field] = name
				return req, nil
			}
		}
		if schema, ok := cfg.Schema(req.Action); ok {
			if ps, ok := schema[field]; ok && ps.Constraints != nil {
				for _, name := range ps.Constraints.Enum {
					if strings.EqualFold(name, raw) {
						req.Params[field] = name
						return req, nil
					}
				}
			}
		}
		return req, []Warning{{
			Stage:     "canonicalize",
			Parameter: field,
			Message:   "unknown market " + raw + " on " + req.Chain,
		}}
	}
}
