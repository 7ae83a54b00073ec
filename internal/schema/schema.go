package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
)

const addressPattern = `^0x[0-9a-fA-F]{40}$`

// Target selects which request path the contracts describe.
type Target string

const (
	TargetGrant Target = "grant"
	TargetBuild Target = "build"
)

// CallingContract is the externally advertised shape of one protocol
// tool. Parameters is a JSON Schema object.
type CallingContract struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerateCallingContracts returns the permission-grant contracts, one per
// protocol that has grantable actions.
func GenerateCallingContracts(reg *registry.Registry) []CallingContract {
	return Generate(reg, TargetGrant)
}

func Generate(reg *registry.Registry, target Target) []CallingContract {
	out := []CallingContract{}
	for _, protocol := range reg.ListProtocols() {
		cfg, _ := reg.Get(protocol)
		if c, ok := project(cfg, target); ok {
			out = append(out, c)
		}
	}
	return out
}

// Contract returns the contract for a single protocol.
func Contract(reg *registry.Registry, protocol string, target Target) (CallingContract, bool) {
	cfg, ok := reg.Get(protocol)
	if !ok {
		return CallingContract{}, false
	}
	return project(cfg, target)
}

func project(cfg registry.ProtocolConfig, target Target) (CallingContract, bool) {
	actions := append([]string(nil), cfg.Actions...)
	if target == TargetGrant {
		actions = cfg.GrantActions()
	}
	if len(actions) == 0 {
		return CallingContract{}, false
	}
	sort.Strings(actions)

	props := map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Action to perform.",
			"enum":        actionNames(cfg, actions),
		},
		"chain": map[string]any{
			"type":        "string",
			"description": "Chain prefix.",
			"enum":        id.ChainPrefixes(),
		},
	}
	required := []string{"action", "chain"}
	switch target {
	case TargetGrant:
		props["policyContract"] = addressProperty("Permission policy contract that holds the role.")
		props["role"] = map[string]any{"type": "string", "minLength": 1, "description": "Role whose permissions change."}
		props["operation"] = map[string]any{
			"type":        "string",
			"description": "allow adds the permission, revoke removes it.",
			"enum":        []string{"allow", "revoke"},
		}
		required = append(required, "policyContract", "role")
	case TargetBuild:
		props["sender"] = addressProperty("Account that sends the transaction or signs the order.")
		required = append(required, "sender")
	}

	merged := map[string][]registry.ParameterSchema{}
	for _, act := range actions {
		schema, _ := cfg.Schema(act)
		for name, ps := range schema {
			merged[name] = append(merged[name], ps)
		}
	}
	for name, schemas := range merged {
		props[name] = mergeProperty(schemas)
	}
	// Mapped source names are accepted too and carry the destination's shape.
	for _, rule := range cfg.Mappings {
		if _, taken := props[rule.From]; taken {
			continue
		}
		if dest, ok := merged[rule.To]; ok {
			p := mergeProperty(dest)
			p["description"] = "Alias of " + rule.To + "."
			props[rule.From] = p
		}
	}

	return CallingContract{
		Name:        cfg.ID,
		Description: fmt.Sprintf("%s Actions: %s.", cfg.Description, strings.Join(actions, ", ")),
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}, true
}

// actionNames lists the actions plus every alias that resolves to one of them.
func actionNames(cfg registry.ProtocolConfig, actions []string) []string {
	allowed := map[string]bool{}
	for _, a := range actions {
		allowed[a] = true
	}
	names := append([]string(nil), actions...)
	for alias, target := range cfg.Aliases {
		if allowed[target] {
			names = append(names, alias)
		}
	}
	sort.Strings(names)
	return names
}

func addressProperty(description string) map[string]any {
	return map[string]any{"type": "string", "pattern": addressPattern, "description": description}
}

// mergeProperty folds the per-action schemas of one parameter into a single
// property. Constraints survive only when every action agrees on them.
func mergeProperty(schemas []registry.ParameterSchema) map[string]any {
	first := schemas[0]
	p := map[string]any{"description": first.Description}
	values := map[string]any{}
	switch first.Type {
	case registry.TypeStringArray:
		p["type"] = "array"
		p["items"] = values
		values["type"] = "string"
	case registry.TypeNumber:
		p["type"] = "number"
		values = p
	case registry.TypeBoolean:
		p["type"] = "boolean"
		return p
	default:
		p["type"] = "string"
		values = p
	}
	if first.Type == registry.TypeAddress {
		values["pattern"] = addressPattern
	}

	c := first.Constraints
	for _, s := range schemas[1:] {
		if s.Type != first.Type || !sameConstraints(c, s.Constraints) {
			c = nil
			break
		}
	}
	if c == nil {
		return p
	}
	if c.Integer {
		values["type"] = "integer"
	}
	if c.Min != nil {
		values["minimum"] = *c.Min
	}
	if c.Max != nil {
		values["maximum"] = *c.Max
	}
	if len(c.Enum) > 0 {
		values["enum"] = c.Enum
	}
	if c.Pattern != "" {
		values["pattern"] = c.Pattern
	}
	if c.Address {
		values["pattern"] = addressPattern
	}
	return p
}

func sameConstraints(a, b *registry.Constraints) bool {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Equal(ja, jb)
}

// Compile compiles the contract's parameter schema (draft 2020-12).
func Compile(c CallingContract) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(c.Parameters)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "marshal calling contract", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://defic.schemas.local/contracts/%s.schema.json", c.Name)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load calling contract", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "compile calling contract", err)
	}
	return compiled, nil
}

// Validate checks free-form tool-call arguments against the contract.
func (c CallingContract) Validate(args map[string]any) error {
	compiled, err := Compile(c)
	if err != nil {
		return err
	}
	// Round-trip so Go-typed values ([]string, int) become JSON values.
	raw, err := json.Marshal(args)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "arguments are not JSON", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "arguments are not JSON", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return clierr.Wrap(clierr.CodeValidation, fmt.Sprintf("arguments do not match the %s contract", c.Name), err)
	}
	return nil
}
