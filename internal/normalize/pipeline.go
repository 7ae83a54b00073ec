package normalize

import (
	"strings"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

// Warning records a value a stage could not rewrite.
type Warning struct {
	Stage     string `json:"stage"`
	Parameter string `json:"parameter,omitempty"`
	Message   string `json:"message"`
}

// Stage is one pure rewrite of a request. It receives a private clone.
type Stage struct {
	Name  string
	Apply func(req action.Request) (action.Request, []Warning)
}

type Result struct {
	Request  action.Request `json:"request"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

// Pipeline applies the stages in a fixed order. Stages never fail; running
// the pipeline on its own output changes nothing.
type Pipeline struct {
	reg      *registry.Registry
	resolver *tokens.Resolver
	stages   []Stage
}

func New(reg *registry.Registry, resolver *tokens.Resolver) *Pipeline {
	p := &Pipeline{reg: reg, resolver: resolver}
	p.stages = []Stage{
		{Name: "identity", Apply: p.canonicalIdentity},
		{Name: "alias", Apply: p.aliasAction},
		{Name: "mapping", Apply: p.mapParameters},
		{Name: "coercion", Apply: p.coerceShapes},
		{Name: "token_policy", Apply: p.applyTokenPolicy},
		{Name: "canonicalize", Apply: p.canonicalizeValues},
	}
	return p
}

// Stages returns the pipeline stages in application order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

func (p *Pipeline) Normalize(req action.Request) Result {
	cur := req.Clone()
	var warnings []Warning
	for _, stage := range p.stages {
		next, w := stage.Apply(cur.Clone())
		cur = next
		warnings = append(warnings, w...)
	}
	return Result{Request: cur, Warnings: warnings}
}

// canonicalIdentity trims and lowercases the identity fields and rewrites a
// recognized chain into its prefix.
func (p *Pipeline) canonicalIdentity(req action.Request) (action.Request, []Warning) {
	req.Protocol = strings.ToLower(strings.TrimSpace(req.Protocol))
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	req.Operation = strings.ToLower(strings.TrimSpace(req.Operation))
	req.PolicyContract = strings.TrimSpace(req.PolicyContract)
	req.Role = strings.TrimSpace(req.Role)
	req.Sender = strings.TrimSpace(req.Sender)
	req.Chain = strings.TrimSpace(req.Chain)
	if c, ok := id.LookupChain(req.Chain); ok {
		req.Chain = c.Prefix
	}
	if req.Params == nil {
		req.Params = action.Params{}
	}
	return req, nil
}

func (p *Pipeline) aliasAction(req action.Request) (action.Request, []Warning) {
	cfg, ok := p.reg.Get(req.Protocol)
	if !ok {
		return req, nil
	}
	req.Action = cfg.CanonicalAction(req.Action)
	return req, nil
}

func (p *Pipeline) mapParameters(req action.Request) (action.Request, []Warning) {
	cfg, ok := p.reg.Get(req.Protocol)
	if !ok {
		return req, nil
	}
	var warnings []Warning
	for _, rule := range cfg.Mappings {
		if !rule.Matches(req.Protocol, req.Action, req.Chain) || !req.Params.Has(rule.From) {
			continue
		}
		if req.Params.Has(rule.To) {
			warnings = append(warnings, Warning{
				Stage:     "mapping",
				Parameter: rule.From,
				Message:   rule.From + " not mapped because " + rule.To + " is already set",
			})
			continue
		}
		req.Params[rule.To] = req.Params[rule.From]
		delete(req.Params, rule.From)
	}
	return req, warnings
}

func (p *Pipeline) chain(req action.Request) (id.Chain, bool) {
	return id.LookupChain(req.Chain)
}
