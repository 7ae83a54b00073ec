package normalize

import (
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
)

// coerceShapes converts loosely typed argument values into the shape the
// action schema declares. Values that do not convert are left alone for
// validation to report; undeclared fields are untouched.
func (p *Pipeline) coerceShapes(req action.Request) (action.Request, []Warning) {
	cfg, ok := p.reg.Get(req.Protocol)
	if !ok {
		return req, nil
	}
	schema, ok := cfg.Schema(req.Action)
	if !ok {
		return req, nil
	}
	for name, ps := range schema {
		v, present := req.Params[name]
		if !present || v == nil {
			continue
		}
		if coerced, ok := coerce(ps.Type, v); ok {
			req.Params[name] = coerced
		}
	}
	return req, nil
}

func coerce(t registry.ParamType, v any) (any, bool) {
	switch t {
	case registry.TypeStringArray:
		return coerceList(v)
	case registry.TypeNumber:
		switch tv := v.(type) {
		case float64:
			return tv, true
		case bool:
			return nil, false
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
			if err != nil {
				return nil, false
			}
			return n, true
		}
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, false
		}
		return n, true
	case registry.TypeBoolean:
		switch tv := v.(type) {
		case bool:
			return tv, true
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(tv)))
			if err != nil {
				return nil, false
			}
			return b, true
		}
		return nil, false
	case registry.TypeString, registry.TypeAddress:
		switch tv := v.(type) {
		case string:
			return strings.TrimSpace(tv), true
		case []string, []any, bool, map[string]any:
			return nil, false
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, false
		}
		return s, true
	}
	return nil, false
}

func coerceList(v any) (any, bool) {
	var raw []string
	switch tv := v.(type) {
	case string:
		raw = strings.Split(tv, ",")
	case []string:
		raw = tv
	case []any:
		for _, item := range tv {
			switch item.(type) {
			case []any, []string, map[string]any, bool, nil:
				return nil, false
			}
			s, err := cast.ToStringE(item)
			if err != nil {
				return nil, false
			}
			raw = append(raw, s)
		}
	default:
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, true
}
