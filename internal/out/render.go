package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-compiler/internal/config"
	"github.com/ggonzalez94/defi-compiler/internal/model"
)

// Text is data that plain mode prints verbatim, such as a summary with an
// embedded batch. Field selection leaves it untouched.
type Text string

// Render writes env in the configured mode. JSON is the default; plain mode
// prints one key=value line per result followed by any warnings.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = selectFields(data, settings.SelectFields)
	}
	plain := settings.OutputMode == "plain"

	switch {
	case settings.ResultsOnly && plain:
		return writePlain(w, data)
	case settings.ResultsOnly:
		return encode(w, data)
	case plain:
		return writePlainEnvelope(w, env, data)
	default:
		env.Data = data
		return encode(w, env)
	}
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writePlainEnvelope(w io.Writer, env model.Envelope, data any) error {
	if e := env.Error; e != nil {
		if _, err := fmt.Fprintf(w, "error %d (%s): %s\n", e.Code, e.Type, e.Message); err != nil {
			return err
		}
		if e.UserMessage != "" {
			if _, err := fmt.Fprintln(w, e.UserMessage); err != nil {
				return err
			}
		}
		if e.Details != nil {
			if err := writePlain(w, e.Details); err != nil {
				return err
			}
		}
	} else if err := writePlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func writePlain(w io.Writer, data any) error {
	if text, ok := data.(Text); ok {
		_, err := fmt.Fprintln(w, string(text))
		return err
	}
	var lines []string
	switch t := generic(data).(type) {
	case []any:
		if len(t) == 0 {
			lines = []string{"[]"}
		}
		for _, item := range t {
			lines = append(lines, line(item))
		}
	default:
		lines = []string{line(t)}
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

// selectFields keeps the named fields of an object, or of every object in a
// list. A dotted field reaches into nested objects, e.g. payload.safeTx.to;
// the output key is the dotted path itself.
func selectFields(data any, fields []string) any {
	if _, ok := data.(Text); ok {
		return data
	}
	switch t := generic(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, pick(obj, fields))
			}
		}
		return out
	case map[string]any:
		return pick(t, fields)
	default:
		return t
	}
}

func pick(obj map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if v, ok := lookup(obj, field); ok {
			out[field] = v
		}
	}
	return out
}

func lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// generic converts typed results into the maps and slices their JSON form
// decodes to, so selection and plain output follow the json field names.
func generic(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func line(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return scalar(v)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+scalar(obj[k]))
	}
	return strings.Join(parts, " ")
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case map[string]any, []any:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}
