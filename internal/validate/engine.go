package validate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
)

type Kind string

const (
	KindRequired   Kind = "required"
	KindType       Kind = "type"
	KindConstraint Kind = "constraint"
	KindDependency Kind = "dependency"
)

type WarningKind string

const (
	WarnUnknown WarningKind = "unknown"
	WarnIgnored WarningKind = "ignored"
)

type Error struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
	Kind      Kind   `json:"kind"`
	// Registry marks unknown protocol, action or chain combinations.
	Registry bool `json:"registry,omitempty"`
}

type Warning struct {
	Parameter string      `json:"parameter"`
	Message   string      `json:"message"`
	Kind      WarningKind `json:"kind"`
}

type Result struct {
	Errors   []Error   `json:"errors"`
	Warnings []Warning `json:"warnings,omitempty"`
}

func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Err converts a failing result into a typed error. Registry errors map to
// CodeUnsupported, everything else to CodeValidation.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	registryErr := false
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
		registryErr = registryErr || e.Registry
	}
	code := clierr.CodeValidation
	if registryErr {
		code = clierr.CodeUnsupported
	}
	return &ResultError{err: clierr.New(code, strings.Join(msgs, "; ")), Result: r}
}

// ResultError carries the full result alongside the typed error.
type ResultError struct {
	Result Result
	err    *clierr.Error
}

func (e *ResultError) Error() string { return e.err.Error() }

func (e *ResultError) Unwrap() error { return e.err }

// Mode selects the identity fields a request must carry.
type Mode string

const (
	ModeAny   Mode = ""
	ModeGrant Mode = "grant"
	ModeBuild Mode = "build"
)

// Engine checks normalized requests against the registry.
type Engine struct {
	reg   *registry.Registry
	rules []DependencyRule
	v     *validator.Validate

	patternsMu sync.Mutex
	patterns   map[string]*regexp.Regexp
}

func New(reg *registry.Registry, extra ...DependencyRule) *Engine {
	return &Engine{
		reg:      reg,
		rules:    append(DefaultRules(), extra...),
		v:        validator.New(),
		patterns: map[string]*regexp.Regexp{},
	}
}

// Check runs every check and accumulates the findings. Only an unknown
// protocol stops the run early.
func (e *Engine) Check(req action.Request, mode Mode) Result {
	res := Result{Errors: []Error{}}
	if strings.TrimSpace(req.Protocol) == "" {
		res.Errors = append(res.Errors, Error{Parameter: "protocol", Message: "protocol is required", Kind: KindRequired})
		return res
	}
	cfg, ok := e.reg.Get(req.Protocol)
	if !ok {
		res.Errors = append(res.Errors, Error{
			Parameter: "protocol",
			Message:   fmt.Sprintf("unknown protocol %s", req.Protocol),
			Kind:      KindConstraint,
			Registry:  true,
		})
		return res
	}

	e.checkStructure(cfg, req, mode, &res)
	e.checkIdentity(req, mode, &res)

	schema, ok := cfg.Schema(req.Action)
	if !ok {
		return res
	}
	e.checkRequired(schema, req, &res)
	typed := e.checkTypes(schema, req, &res)
	e.checkConstraints(cfg, schema, req, typed, &res)
	e.checkDependencies(schema, req, &res)
	for _, rule := range e.rules {
		if rule.Matches(cfg.ID, req.Action) {
			res.Errors = append(res.Errors, rule.Check(req)...)
		}
	}
	for _, name := range req.Params.Keys() {
		if _, declared := schema[name]; !declared {
			res.Warnings = append(res.Warnings, Warning{
				Parameter: name,
				Message:   fmt.Sprintf("%s is not a parameter of %s %s and is ignored", name, cfg.ID, req.Action),
				Kind:      WarnUnknown,
			})
		}
	}
	return res
}

func (e *Engine) checkStructure(cfg registry.ProtocolConfig, req action.Request, mode Mode, res *Result) {
	switch {
	case req.Action == "":
		res.Errors = append(res.Errors, Error{Parameter: "action", Message: "action is required", Kind: KindRequired})
	case !cfg.HasAction(req.Action):
		res.Errors = append(res.Errors, Error{
			Parameter: "action",
			Message:   fmt.Sprintf("%s does not support action %s", cfg.ID, req.Action),
			Kind:      KindConstraint,
			Registry:  true,
		})
	case mode == ModeGrant && cfg.IsBuilderOnly(req.Action):
		res.Errors = append(res.Errors, Error{
			Parameter: "action",
			Message:   fmt.Sprintf("%s %s can only be built locally, not granted", cfg.ID, req.Action),
			Kind:      KindConstraint,
			Registry:  true,
		})
	}

	if req.Chain == "" {
		res.Errors = append(res.Errors, Error{Parameter: "chain", Message: "chain is required", Kind: KindRequired})
		return
	}
	chain, ok := id.LookupChain(req.Chain)
	if !ok {
		res.Errors = append(res.Errors, Error{
			Parameter: "chain",
			Message:   fmt.Sprintf("unknown chain %s", req.Chain),
			Kind:      KindConstraint,
			Registry:  true,
		})
		return
	}
	if d, ok := cfg.Deployment(chain.Prefix); !ok || !d.Supported {
		res.Errors = append(res.Errors, Error{
			Parameter: "chain",
			Message:   fmt.Sprintf("%s is not deployed on %s", cfg.ID, chain.Prefix),
			Kind:      KindConstraint,
			Registry:  true,
		})
	}
}

func (e *Engine) checkIdentity(req action.Request, mode Mode, res *Result) {
	address := func(name, value string) {
		if value == "" {
			res.Errors = append(res.Errors, Error{Parameter: name, Message: name + " is required", Kind: KindRequired})
			return
		}
		if e.v.Var(value, "eth_addr") != nil {
			res.Errors = append(res.Errors, Error{Parameter: name, Message: name + " must be an address", Kind: KindType})
		}
	}
	switch mode {
	case ModeGrant:
		address("policyContract", req.PolicyContract)
		if req.Role == "" {
			res.Errors = append(res.Errors, Error{Parameter: "role", Message: "role is required", Kind: KindRequired})
		}
		switch req.Operation {
		case "":
			res.Errors = append(res.Errors, Error{Parameter: "operation", Message: "operation is required", Kind: KindRequired})
		case action.OperationAllow, action.OperationRevoke:
		default:
			res.Errors = append(res.Errors, Error{Parameter: "operation", Message: "operation must be allow or revoke", Kind: KindConstraint})
		}
	case ModeBuild:
		address("sender", req.Sender)
	}
}

func (e *Engine) checkRequired(schema map[string]registry.ParameterSchema, req action.Request, res *Result) {
	for _, name := range sortedNames(schema) {
		if schema[name].Required && !req.Params.Has(name) {
			res.Errors = append(res.Errors, Error{Parameter: name, Message: name + " is required", Kind: KindRequired})
		}
	}
}

// checkTypes returns the names of present fields whose value has the
// declared type.
func (e *Engine) checkTypes(schema map[string]registry.ParameterSchema, req action.Request, res *Result) map[string]bool {
	typed := map[string]bool{}
	for _, name := range sortedNames(schema) {
		if !req.Params.Has(name) {
			continue
		}
		ps := schema[name]
		if conforms(ps.Type, req.Params[name]) {
			typed[name] = true
			continue
		}
		res.Errors = append(res.Errors, Error{
			Parameter: name,
			Message:   fmt.Sprintf("%s must be %s", name, describeType(ps.Type)),
			Kind:      KindType,
		})
	}
	return typed
}

func conforms(t registry.ParamType, v any) bool {
	switch t {
	case registry.TypeString:
		_, ok := v.(string)
		return ok
	case registry.TypeAddress:
		s, ok := v.(string)
		return ok && id.IsAddress(s)
	case registry.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case registry.TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32, uint, uint64, uint32:
			return true
		}
		return false
	case registry.TypeStringArray:
		switch tv := v.(type) {
		case []string:
			return true
		case []any:
			for _, item := range tv {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	}
	return false
}

func describeType(t registry.ParamType) string {
	switch t {
	case registry.TypeStringArray:
		return "a list of strings"
	case registry.TypeAddress:
		return "an address (0x followed by 40 hex characters)"
	case registry.TypeNumber:
		return "a number"
	case registry.TypeBoolean:
		return "true or false"
	default:
		return "a string"
	}
}

func (e *Engine) checkConstraints(cfg registry.ProtocolConfig, schema map[string]registry.ParameterSchema, req action.Request, typed map[string]bool, res *Result) {
	for _, name := range sortedNames(schema) {
		ps := schema[name]
		c := ps.Constraints
		if c == nil || !typed[name] {
			continue
		}
		fail := func(format string, args ...any) {
			res.Errors = append(res.Errors, Error{Parameter: name, Message: fmt.Sprintf(format, args...), Kind: KindConstraint})
		}
		if ps.Type == registry.TypeNumber {
			n, _ := req.Params.Number(name)
			if c.Min != nil && n < *c.Min {
				fail("%s must be at least %v", name, *c.Min)
			}
			if c.Max != nil && n > *c.Max {
				fail("%s must be at most %v", name, *c.Max)
			}
			if c.Integer && n != math.Trunc(n) {
				fail("%s must be a whole number, got %v", name, n)
			}
			continue
		}
		values, _ := req.Params.Strings(name)
		for _, v := range values {
			if len(c.Enum) > 0 && !contains(c.Enum, v) {
				fail("%s must be one of %s, got %s", name, strings.Join(c.Enum, ", "), v)
			}
			if c.Pattern != "" && !e.pattern(c.Pattern).MatchString(v) {
				fail("%s has an invalid format: %s", name, v)
			}
			if c.Amount && id.ExceedsUint256(v) {
				fail("%s is larger than any token amount can be: %s", name, v)
			}
			if c.Address && ps.Type != registry.TypeAddress && e.v.Var(v, "eth_addr") != nil {
				fail("%s must be an address, got %s", name, v)
			}
			if c.Market {
				d, _ := cfg.Deployment(req.Chain)
				if canonical, _, ok := d.Market(v); !ok || canonical != v {
					fail("market %s is not available on %s (available: %s)", v, req.Chain, strings.Join(d.MarketNames(), ", "))
				}
			}
		}
	}
}

func (e *Engine) checkDependencies(schema map[string]registry.ParameterSchema, req action.Request, res *Result) {
	for _, name := range sortedNames(schema) {
		if !req.Params.Has(name) {
			continue
		}
		for _, dep := range schema[name].Dependencies {
			if !req.Params.Has(dep) {
				res.Errors = append(res.Errors, Error{
					Parameter: dep,
					Message:   fmt.Sprintf("%s requires %s", name, dep),
					Kind:      KindDependency,
				})
			}
		}
	}
}

func (e *Engine) pattern(expr string) *regexp.Regexp {
	e.patternsMu.Lock()
	defer e.patternsMu.Unlock()
	if re, ok := e.patterns[expr]; ok {
		return re
	}
	re := regexp.MustCompile(expr)
	e.patterns[expr] = re
	return re
}

func sortedNames(schema map[string]registry.ParameterSchema) []string {
	out := make([]string, 0, len(schema))
	for name := range schema {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
