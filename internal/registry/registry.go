package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/id"
)

// Registry is the immutable table of protocol definitions. Callers must not
// mutate the maps of a ProtocolConfig returned by Get.
type Registry struct {
	protocols map[string]ProtocolConfig
	order     []string
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in registry. It panics if the built-in table is
// inconsistent, which the package tests guard against.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := New(BuiltinProtocols())
		if err != nil {
			panic(err)
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// New checks every cross-reference in configs and builds a registry.
func New(configs []ProtocolConfig) (*Registry, error) {
	v := validator.New()
	reg := &Registry{protocols: make(map[string]ProtocolConfig, len(configs))}
	for _, cfg := range configs {
		cfg.ID = strings.ToLower(strings.TrimSpace(cfg.ID))
		if _, exists := reg.protocols[cfg.ID]; exists {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("duplicate protocol %q", cfg.ID))
		}
		if err := checkProtocol(v, cfg); err != nil {
			return nil, err
		}
		reg.protocols[cfg.ID] = cfg
		reg.order = append(reg.order, cfg.ID)
	}
	sort.Strings(reg.order)
	return reg, nil
}

func checkProtocol(v *validator.Validate, cfg ProtocolConfig) error {
	fail := func(format string, args ...any) error {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("protocol %s: ", cfg.ID)+fmt.Sprintf(format, args...))
	}
	if err := v.Struct(cfg); err != nil {
		return fail("%s", formatValidationErrors(err))
	}

	for _, action := range cfg.Actions {
		if _, ok := cfg.Parameters[action]; !ok {
			return fail("action %q has no parameter map", action)
		}
	}
	for action, params := range cfg.Parameters {
		if !cfg.HasAction(action) {
			return fail("parameters declared for undeclared action %q", action)
		}
		for name, schema := range params {
			if err := v.Struct(schema); err != nil {
				return fail("parameter %s.%s: %s", action, name, formatValidationErrors(err))
			}
			if err := checkConstraints(schema); err != nil {
				return fail("parameter %s.%s: %v", action, name, err)
			}
			for _, dep := range schema.Dependencies {
				if _, ok := params[dep]; !ok {
					return fail("parameter %s.%s depends on undeclared field %q", action, name, dep)
				}
			}
		}
	}
	for _, action := range cfg.BuilderOnly {
		if !cfg.HasAction(action) {
			return fail("builder-only action %q is not declared", action)
		}
	}
	for alias, target := range cfg.Aliases {
		if alias != strings.ToLower(alias) {
			return fail("alias %q must be lowercase", alias)
		}
		if cfg.HasAction(alias) {
			return fail("alias %q shadows a declared action", alias)
		}
		if !cfg.HasAction(target) {
			return fail("alias %q targets undeclared action %q", alias, target)
		}
	}

	for _, chain := range id.ChainPrefixes() {
		if _, ok := cfg.Deployments[chain]; !ok {
			return fail("missing deployment entry for chain %s", chain)
		}
	}
	anySupported := false
	for chain, d := range cfg.Deployments {
		if _, ok := id.LookupChain(chain); !ok || chain != strings.ToLower(chain) {
			return fail("deployment for unknown chain %q", chain)
		}
		if err := v.Struct(d); err != nil {
			return fail("deployment %s: %s", chain, formatValidationErrors(err))
		}
		if d.Supported {
			anySupported = true
		}
	}
	if !anySupported {
		return fail("no supported chain")
	}
	if usesMarkets(cfg) {
		for chain, d := range cfg.Deployments {
			if d.Supported && len(d.Markets) == 0 {
				return fail("chain %s is supported but declares no markets", chain)
			}
		}
	}

	for _, rule := range cfg.Mappings {
		if rule.When.Protocol != "" && !strings.EqualFold(rule.When.Protocol, cfg.ID) {
			return fail("mapping %s->%s names foreign protocol %q", rule.From, rule.To, rule.When.Protocol)
		}
		if rule.When.Action != "" && !cfg.HasAction(rule.When.Action) {
			return fail("mapping %s->%s names undeclared action %q", rule.From, rule.To, rule.When.Action)
		}
		if rule.When.Chain != "" {
			if _, ok := cfg.Deployments[rule.When.Chain]; !ok {
				return fail("mapping %s->%s names unknown chain %q", rule.From, rule.To, rule.When.Chain)
			}
		}
		if !declaresField(cfg, rule.To) {
			return fail("mapping %s->%s targets undeclared field", rule.From, rule.To)
		}
	}
	if cfg.TokenPolicy != nil {
		for _, field := range cfg.TokenPolicy.Fields {
			if !declaresField(cfg, field) {
				return fail("token policy names undeclared field %q", field)
			}
		}
	}
	return nil
}

func checkConstraints(schema ParameterSchema) error {
	c := schema.Constraints
	if c == nil {
		return nil
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return fmt.Errorf("min %v exceeds max %v", *c.Min, *c.Max)
	}
	if (c.Min != nil || c.Max != nil) && schema.Type != TypeNumber {
		return fmt.Errorf("numeric bounds on %s field", schema.Type)
	}
	if c.Pattern != "" {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	return nil
}

func usesMarkets(cfg ProtocolConfig) bool {
	for _, params := range cfg.Parameters {
		for _, schema := range params {
			if schema.Constraints != nil && schema.Constraints.Market {
				return true
			}
		}
	}
	return false
}

func declaresField(cfg ProtocolConfig, field string) bool {
	for _, params := range cfg.Parameters {
		if _, ok := params[field]; ok {
			return true
		}
	}
	return false
}

func formatValidationErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func (r *Registry) Get(protocolID string) (ProtocolConfig, bool) {
	cfg, ok := r.protocols[strings.ToLower(strings.TrimSpace(protocolID))]
	return cfg, ok
}

// ListProtocols returns every protocol id, sorted.
func (r *Registry) ListProtocols() []string {
	return append([]string(nil), r.order...)
}

// ListProtocolsSupportingAction matches canonical action names and aliases.
func (r *Registry) ListProtocolsSupportingAction(action string) []string {
	out := []string{}
	for _, pid := range r.order {
		cfg := r.protocols[pid]
		if cfg.HasAction(cfg.CanonicalAction(action)) {
			out = append(out, pid)
		}
	}
	return out
}

func (r *Registry) ListProtocolsSupportingChain(chain string) []string {
	out := []string{}
	c, ok := id.LookupChain(chain)
	if !ok {
		return out
	}
	for _, pid := range r.order {
		if d, ok := r.protocols[pid].Deployment(c.Prefix); ok && d.Supported {
			out = append(out, pid)
		}
	}
	return out
}

// IsSupported requires the protocol to exist and be deployed on chain, and,
// when action is non-empty, to declare it.
func (r *Registry) IsSupported(protocolID, chain, action string) bool {
	cfg, ok := r.Get(protocolID)
	if !ok {
		return false
	}
	c, ok := id.LookupChain(chain)
	if !ok {
		return false
	}
	d, ok := cfg.Deployment(c.Prefix)
	if !ok || !d.Supported {
		return false
	}
	if action == "" {
		return true
	}
	return cfg.HasAction(strings.ToLower(strings.TrimSpace(action)))
}
