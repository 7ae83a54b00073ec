package action

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Operation values accepted by the permission service.
const (
	OperationAllow  = "allow"
	OperationRevoke = "revoke"
)

// Params is the protocol-specific parameter bag. After normalization values
// are one of string, []string, float64 or bool.
type Params map[string]any

// Request is a caller-supplied action description. Stages of the pipeline
// work on clones; a Request is never shared between goroutines.
type Request struct {
	Protocol       string `json:"protocol"`
	Action         string `json:"action"`
	Chain          string `json:"chain"`
	PolicyContract string `json:"policyContract,omitempty"`
	Role           string `json:"role,omitempty"`
	Operation      string `json:"operation,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Params         Params `json:"params,omitempty"`
}

// Clone deep-copies the request, including slice parameter values.
func (r Request) Clone() Request {
	out := r
	out.Params = r.Params.Clone()
	return out
}

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		switch tv := v.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []any:
			out[k] = append([]any(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}

// Has reports whether key carries a non-empty value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	switch tv := v.(type) {
	case string:
		return strings.TrimSpace(tv) != ""
	case []string:
		return len(tv) > 0
	case []any:
		return len(tv) > 0
	}
	return true
}

func (p Params) String(key string) (string, bool) {
	if !p.Has(key) {
		return "", false
	}
	switch v := p[key].(type) {
	case []string, []any:
		return "", false
	case string:
		return strings.TrimSpace(v), true
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return "", false
		}
		return s, true
	}
}

// Strings returns a list value; a lone scalar is returned as a one-element list.
func (p Params) Strings(key string) ([]string, bool) {
	if !p.Has(key) {
		return nil, false
	}
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, false
		}
		return out, true
	case string:
		return []string{strings.TrimSpace(v)}, true
	}
	return nil, false
}

func (p Params) Bool(key string) (bool, bool) {
	if !p.Has(key) {
		return false, false
	}
	b, err := cast.ToBoolE(p[key])
	if err != nil {
		return false, false
	}
	return b, true
}

func (p Params) Number(key string) (float64, bool) {
	if !p.Has(key) {
		return 0, false
	}
	if _, isBool := p[key].(bool); isBool {
		return 0, false
	}
	n, err := cast.ToFloat64E(p[key])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns the parameter names, sorted.
func (p Params) Keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var identityKeys = map[string]string{
	"protocol":        "protocol",
	"action":          "action",
	"chain":           "chain",
	"policycontract":  "policyContract",
	"policy_contract": "policyContract",
	"rolesmodaddress": "policyContract",
	"role":            "role",
	"rolekey":         "role",
	"operation":       "operation",
	"sender":          "sender",
	"avatar":          "sender",
}

// FromArgs builds a request from free-form tool-call arguments. Identity
// keys are lifted into fields; every other key becomes a parameter.
func FromArgs(args map[string]any) Request {
	req := Request{Params: Params{}}
	for k, v := range args {
		field, ok := identityKeys[strings.ToLower(k)]
		if !ok {
			req.Params[k] = v
			continue
		}
		s := strings.TrimSpace(cast.ToString(v))
		switch field {
		case "protocol":
			req.Protocol = s
		case "action":
			req.Action = s
		case "chain":
			req.Chain = s
		case "policyContract":
			req.PolicyContract = s
		case "role":
			req.Role = s
		case "operation":
			req.Operation = s
		case "sender":
			req.Sender = s
		}
	}
	return req
}
