package registry

import (
	"sort"
	"strings"
)

// ParamType is the type tag of a protocol parameter.
type ParamType string

const (
	TypeString      ParamType = "string"
	TypeStringArray ParamType = "string-array"
	TypeNumber      ParamType = "number"
	TypeBoolean     ParamType = "boolean"
	TypeAddress     ParamType = "address"
)

// Constraints restrict the values a parameter accepts. Enum and Pattern
// apply to every element of a string-array.
type Constraints struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Enum    []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Address bool     `json:"address,omitempty" yaml:"address,omitempty"`
	// Integer rejects fractional numbers.
	Integer bool `json:"integer,omitempty" yaml:"integer,omitempty"`
	// Amount requires a decimal amount whose whole part fits a uint256.
	Amount bool `json:"amount,omitempty" yaml:"amount,omitempty"`
	// Market requires the value to name a market of the chain deployment.
	Market bool `json:"market,omitempty" yaml:"market,omitempty"`
}

type ParameterSchema struct {
	Type        ParamType    `json:"type" yaml:"type" validate:"required,oneof=string string-array number boolean address"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Description string       `json:"description" yaml:"description" validate:"required"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	// Dependencies lists fields that must be present whenever this one is.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Deployment describes a protocol on one chain. Contracts maps a role name
// (pool, stETH, settlement, ...) to an address; Markets maps a named market
// to its pool address.
type Deployment struct {
	Supported bool              `json:"supported" yaml:"supported"`
	Contracts map[string]string `json:"contracts,omitempty" yaml:"contracts,omitempty" validate:"dive,eth_addr"`
	Markets   map[string]string `json:"markets,omitempty" yaml:"markets,omitempty" validate:"dive,eth_addr"`
}

// MappingCondition limits a mapping rule. Empty fields match anything.
type MappingCondition struct {
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Action   string `json:"action,omitempty" yaml:"action,omitempty"`
	Chain    string `json:"chain,omitempty" yaml:"chain,omitempty"`
}

type ParameterMappingRule struct {
	From string           `json:"from" yaml:"from" validate:"required"`
	To   string           `json:"to" yaml:"to" validate:"required,nefield=From"`
	When MappingCondition `json:"when,omitempty" yaml:"when,omitempty"`
}

// Matches reports whether the rule applies to protocol/action/chain.
func (r ParameterMappingRule) Matches(protocol, action, chain string) bool {
	if r.When.Protocol != "" && !strings.EqualFold(r.When.Protocol, protocol) {
		return false
	}
	if r.When.Action != "" && !strings.EqualFold(r.When.Action, action) {
		return false
	}
	if r.When.Chain != "" && !strings.EqualFold(r.When.Chain, chain) {
		return false
	}
	return true
}

// TokenPolicy controls how native-currency aliases and token symbols are
// rewritten. NativeSymbol overrides the chain's wrapped-token symbol as the
// native representative.
type TokenPolicy struct {
	NativeSymbol     string   `json:"nativeSymbol,omitempty" yaml:"nativeSymbol,omitempty"`
	KeepNative       bool     `json:"keepNative,omitempty" yaml:"keepNative,omitempty"`
	ResolveAddresses bool     `json:"resolveAddresses,omitempty" yaml:"resolveAddresses,omitempty"`
	Fields           []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// DefaultTokenFields are the token-bearing fields rewritten when a policy
// names no fields of its own.
var DefaultTokenFields = []string{"tokens", "targets", "sell", "buy", "token", "asset"}

type ProtocolConfig struct {
	ID          string                                `json:"id" yaml:"id" validate:"required"`
	Name        string                                `json:"name" yaml:"name" validate:"required"`
	Description string                                `json:"description" yaml:"description"`
	Actions     []string                              `json:"actions" yaml:"actions" validate:"required,min=1,unique,dive,required"`
	BuilderOnly []string                              `json:"builderOnly,omitempty" yaml:"builderOnly,omitempty" validate:"unique"`
	Parameters  map[string]map[string]ParameterSchema `json:"parameters" yaml:"parameters"`
	Deployments map[string]Deployment                 `json:"deployments" yaml:"deployments" validate:"required,dive"`
	Mappings    []ParameterMappingRule                `json:"mappings,omitempty" yaml:"mappings,omitempty" validate:"dive"`
	Aliases     map[string]string                     `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	TokenPolicy *TokenPolicy                          `json:"tokenPolicy,omitempty" yaml:"tokenPolicy,omitempty"`
}

func (p ProtocolConfig) HasAction(action string) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

func (p ProtocolConfig) IsBuilderOnly(action string) bool {
	for _, a := range p.BuilderOnly {
		if a == action {
			return true
		}
	}
	return false
}

// GrantActions are the actions the permission service can grant.
func (p ProtocolConfig) GrantActions() []string {
	out := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		if !p.IsBuilderOnly(a) {
			out = append(out, a)
		}
	}
	return out
}

// CanonicalAction resolves an alias. Unknown strings are returned lowercased.
func (p ProtocolConfig) CanonicalAction(action string) string {
	norm := strings.ToLower(strings.TrimSpace(action))
	if target, ok := p.Aliases[norm]; ok {
		return target
	}
	return norm
}

func (p ProtocolConfig) Schema(action string) (map[string]ParameterSchema, bool) {
	params, ok := p.Parameters[action]
	return params, ok
}

// Deployment returns the deployment for a chain prefix.
func (p ProtocolConfig) Deployment(chain string) (Deployment, bool) {
	d, ok := p.Deployments[strings.ToLower(strings.TrimSpace(chain))]
	return d, ok
}

// SupportedChains returns the sorted chain prefixes marked supported.
func (p ProtocolConfig) SupportedChains() []string {
	out := []string{}
	for chain, d := range p.Deployments {
		if d.Supported {
			out = append(out, chain)
		}
	}
	sort.Strings(out)
	return out
}

// Market looks a market up case-insensitively and returns its canonical
// name and pool address.
func (d Deployment) Market(name string) (string, string, bool) {
	name = strings.TrimSpace(name)
	if addr, ok := d.Markets[name]; ok {
		return name, addr, true
	}
	for canonical, addr := range d.Markets {
		if strings.EqualFold(canonical, name) {
			return canonical, addr, true
		}
	}
	return "", "", false
}

// MarketNames returns the sorted market names of the deployment.
func (d Deployment) MarketNames() []string {
	out := make([]string, 0, len(d.Markets))
	for name := range d.Markets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d Deployment) Contract(name string) (string, bool) {
	addr, ok := d.Contracts[name]
	return addr, ok
}
