package builder

import (
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

// Builder turns a validated, normalized request into a payload.
type Builder interface {
	Name() string
	Build(env Env, req action.Request) (execution.Payload, error)
}

// Env is what a builder may read besides the request.
type Env struct {
	Protocol   registry.ProtocolConfig
	Chain      id.Chain
	Deployment registry.Deployment
	Tokens     *tokens.Resolver
	Now        time.Time
}

// Binding claims one (protocol, action) pair for a builder.
type Binding struct {
	Protocol string
	Action   string
	Builder  Builder
}

// DefaultBindings is the dispatch table, in dispatch order.
func DefaultBindings() []Binding {
	lending := aaveLendingBuilder{}
	return []Binding{
		{Protocol: "aave_v3", Action: "deposit", Builder: lending},
		{Protocol: "aave_v3", Action: "borrow", Builder: lending},
		{Protocol: "spark", Action: "deposit", Builder: lending},
		{Protocol: "spark", Action: "borrow", Builder: lending},
		{Protocol: "cowswap", Action: "swap", Builder: cowswapOrderBuilder{}},
		{Protocol: "cowswap", Action: "presign", Builder: cowswapPreSignBuilder{}},
		{Protocol: "lido", Action: "deposit", Builder: lidoStakeBuilder{}},
		{Protocol: "erc20", Action: "approve", Builder: approveBuilder{}},
	}
}

type Registry struct {
	reg      *registry.Registry
	tokens   *tokens.Resolver
	bindings []Binding
	now      func() time.Time
}

type Option func(*Registry)

// WithClock replaces the wall clock used for order deadlines.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithBindings replaces the default dispatch table.
func WithBindings(bindings []Binding) Option {
	return func(r *Registry) { r.bindings = bindings }
}

// NewRegistry fails when two bindings claim the same pair or a binding names
// a pair the protocol registry does not declare.
func NewRegistry(reg *registry.Registry, resolver *tokens.Resolver, opts ...Option) (*Registry, error) {
	r := &Registry{reg: reg, tokens: resolver, bindings: DefaultBindings(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	seen := map[string]string{}
	for _, b := range r.bindings {
		if b.Builder == nil {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("binding %s %s has no builder", b.Protocol, b.Action))
		}
		cfg, ok := reg.Get(b.Protocol)
		if !ok || !cfg.HasAction(b.Action) {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("builder %s claims undeclared pair %s %s", b.Builder.Name(), b.Protocol, b.Action))
		}
		key := b.Protocol + "/" + b.Action
		if prev, dup := seen[key]; dup {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("builders %s and %s both claim %s %s", prev, b.Builder.Name(), b.Protocol, b.Action))
		}
		seen[key] = b.Builder.Name()
	}
	return r, nil
}

// Bindings returns a copy of the dispatch table.
func (r *Registry) Bindings() []Binding {
	return append([]Binding(nil), r.bindings...)
}

// Supports reports whether b can build protocol/action on chain.
func (r *Registry) Supports(b Binding, protocol, act, chain string) bool {
	return b.Protocol == protocol && b.Action == act && r.reg.IsSupported(protocol, chain, act)
}

// Select returns the first binding supporting the triple.
func (r *Registry) Select(protocol, act, chain string) (Binding, bool) {
	for _, b := range r.bindings {
		if r.Supports(b, protocol, act, chain) {
			return b, true
		}
	}
	return Binding{}, false
}

// Build dispatches req to its builder. The triple is checked before any
// token or contract resolution.
func (r *Registry) Build(req action.Request) (execution.Payload, error) {
	chain, ok := id.LookupChain(req.Chain)
	if !ok {
		return execution.Payload{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown chain %s", req.Chain))
	}
	b, ok := r.Select(req.Protocol, req.Action, chain.Prefix)
	if !ok {
		return execution.Payload{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no builder for %s %s on %s", req.Protocol, req.Action, chain.Prefix))
	}
	return r.build(b, chain, req)
}

func (r *Registry) build(b Binding, chain id.Chain, req action.Request) (execution.Payload, error) {
	if !r.Supports(b, req.Protocol, req.Action, chain.Prefix) {
		return execution.Payload{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s cannot build %s %s on %s", b.Builder.Name(), req.Protocol, req.Action, chain.Prefix))
	}
	cfg, _ := r.reg.Get(req.Protocol)
	d, _ := cfg.Deployment(chain.Prefix)
	env := Env{Protocol: cfg, Chain: chain, Deployment: d, Tokens: r.tokens, Now: r.now().UTC()}
	payload, err := b.Builder.Build(env, req)
	if err != nil {
		return execution.Payload{}, err
	}
	payload.Protocol = cfg.ID
	payload.Action = req.Action
	payload.ChainID = chain.EVMChainID
	return payload, nil
}

func missing(field string, env Env, req action.Request) error {
	return clierr.New(clierr.CodeBuild, fmt.Sprintf("%s is required to build %s %s", field, env.Protocol.ID, req.Action))
}

func buildErr(format string, args ...any) error {
	return clierr.New(clierr.CodeBuild, fmt.Sprintf(format, args...))
}

// resolveToken maps a symbol, native alias or address to catalogue info.
// Native aliases resolve to the chain's wrapped token.
func resolveToken(env Env, token string) (tokens.TokenInfo, error) {
	lookup := strings.TrimSpace(token)
	if tokens.IsNativeAlias(lookup, env.Chain) {
		lookup = tokens.NativeRepresentative(env.Chain)
	}
	info, ok := env.Tokens.GetInfo(lookup, env.Chain.Prefix)
	if !ok {
		return tokens.TokenInfo{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("could not resolve token %s on %s", token, env.Chain.Prefix))
	}
	return info, nil
}

// single returns the one value of a list field.
func single(env Env, req action.Request, field string) (string, error) {
	values, ok := req.Params.Strings(field)
	if !ok || len(values) == 0 {
		return "", missing(field, env, req)
	}
	if len(values) > 1 {
		return "", buildErr("%s takes one %s per transaction, got %d", env.Protocol.ID, field, len(values))
	}
	return values[0], nil
}
