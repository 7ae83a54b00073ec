package app

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
)

// requestInput collects an action request from flags or a JSON document.
type requestInput struct {
	protocol       string
	action         string
	chain          string
	sender         string
	policyContract string
	role           string
	operation      string
	params         []string
	input          string
}

func (in *requestInput) bind(fs *pflag.FlagSet) {
	fs.StringVar(&in.protocol, "protocol", "", "Protocol id")
	fs.StringVar(&in.action, "action", "", "Action or alias")
	fs.StringVar(&in.chain, "chain", "", "Chain prefix, name or id")
	fs.StringVar(&in.sender, "sender", "", "Sending account (Safe or EOA)")
	fs.StringVar(&in.policyContract, "policy-contract", "", "Permission policy contract")
	fs.StringVar(&in.role, "role", "", "Role whose permissions change")
	fs.StringVar(&in.operation, "operation", "", "allow or revoke")
	fs.StringArrayVar(&in.params, "param", nil, "Protocol parameter key=value (repeatable)")
	fs.StringVar(&in.input, "input", "", "JSON request file or - for stdin; an array holds several requests")
}

// requests returns the requests named by the flags. An input document may be
// an object or an array of objects; flags fill fields the document leaves
// empty.
func (in *requestInput) requests(stdin io.Reader) ([]action.Request, error) {
	var docs []map[string]any
	if strings.TrimSpace(in.input) != "" {
		raw, err := readInput(in.input, stdin)
		if err != nil {
			return nil, err
		}
		docs, err = decodeDocuments(raw)
		if err != nil {
			return nil, err
		}
	} else {
		docs = []map[string]any{{}}
	}

	flagParams, err := parseParams(in.params)
	if err != nil {
		return nil, err
	}
	out := make([]action.Request, 0, len(docs))
	for _, doc := range docs {
		req := requestFromDocument(doc)
		fill(&req.Protocol, in.protocol)
		fill(&req.Action, in.action)
		fill(&req.Chain, in.chain)
		fill(&req.Sender, in.sender)
		fill(&req.PolicyContract, in.policyContract)
		fill(&req.Role, in.role)
		fill(&req.Operation, in.operation)
		for k, v := range flagParams {
			if _, set := req.Params[k]; !set {
				req.Params[k] = v
			}
		}
		out = append(out, req)
	}
	return out, nil
}

func (in *requestInput) single(stdin io.Reader) (action.Request, error) {
	reqs, err := in.requests(stdin)
	if err != nil {
		return action.Request{}, err
	}
	if len(reqs) != 1 {
		return action.Request{}, clierr.New(clierr.CodeUsage, "expected a single request")
	}
	return reqs[0], nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read stdin", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read input file", err)
	}
	return raw, nil
}

func decodeDocuments(raw []byte) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var docs []map[string]any
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse request list", err)
		}
		if len(docs) == 0 {
			return nil, clierr.New(clierr.CodeUsage, "request list is empty")
		}
		return docs, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse request", err)
	}
	return []map[string]any{doc}, nil
}

// requestFromDocument accepts both the flat tool-call form and the nested
// {"params": {...}} form.
func requestFromDocument(doc map[string]any) action.Request {
	flat := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "params" {
			if nested, ok := v.(map[string]any); ok {
				for pk, pv := range nested {
					flat[pk] = pv
				}
				continue
			}
		}
		flat[k] = v
	}
	return action.FromArgs(flat)
}

// parseParams splits key=value pairs. Values stay strings; the coercion
// stage shapes them per the action schema.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, clierr.New(clierr.CodeUsage, "--param expects key=value, got "+pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func fill(dst *string, v string) {
	if *dst == "" && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
