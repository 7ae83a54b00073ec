package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-compiler/internal/config"
	"github.com/ggonzalez94/defi-compiler/internal/model"
)

func render(t *testing.T, env model.Envelope, settings config.Settings) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

func TestSelectOnListResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    []model.ProtocolSummary{{ID: "lido", Name: "Lido"}, {ID: "aave_v3", Name: "Aave V3"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	output := render(t, env, config.Settings{OutputMode: "json", SelectFields: []string{"id"}, ResultsOnly: true})
	var items []map[string]any
	if err := json.Unmarshal([]byte(output), &items); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(items) != 2 || items[0]["id"] != "lido" || len(items[0]) != 1 {
		t.Fatalf("unexpected projection: %s", output)
	}
}

func TestSelectNestedPath(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data:    map[string]any{"payload": map[string]any{"kind": "safeTx", "safeTx": map[string]any{"to": "0xabc"}}, "request": "x"},
	}
	output := render(t, env, config.Settings{OutputMode: "json", SelectFields: []string{"payload.safeTx.to", "payload.missing"}, ResultsOnly: true})
	var got map[string]any
	if err := json.Unmarshal([]byte(output), &got); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(got) != 1 || got["payload.safeTx.to"] != "0xabc" {
		t.Fatalf("unexpected projection: %s", output)
	}
}

func TestPlainLinesAndWarnings(t *testing.T) {
	env := model.Envelope{
		Success:  true,
		Data:     []map[string]any{{"symbol": "WETH", "native": true, "chains": []string{"eth", "gno"}}},
		Warnings: []string{"token_policy: could not resolve FOO"},
	}
	output := render(t, env, config.Settings{OutputMode: "plain"})
	want := "chains=[\"eth\",\"gno\"] native=true symbol=WETH\nwarning: token_policy: could not resolve FOO\n"
	if output != want {
		t.Fatalf("unexpected plain output:\n%s", output)
	}
}

func TestPlainErrorShowsUserMessage(t *testing.T) {
	env := model.Envelope{
		Success: false,
		Error: &model.ErrorBody{
			Code:        14,
			Type:        "validation_error",
			Message:     "request failed validation",
			UserMessage: "The request is incomplete or invalid.",
		},
	}
	output := render(t, env, config.Settings{OutputMode: "plain"})
	if !strings.HasPrefix(output, "error 14 (validation_error): request failed validation\nThe request is incomplete or invalid.\n") {
		t.Fatalf("unexpected plain error:\n%s", output)
	}
}

func TestTextIsVerbatimAndNeverProjected(t *testing.T) {
	env := model.Envelope{Success: true, Data: Text("Prepared 1 transaction.\n\n```json\n{}\n```")}
	output := render(t, env, config.Settings{OutputMode: "plain", SelectFields: []string{"meta"}})
	if !strings.HasPrefix(output, "Prepared 1 transaction.\n\n```json") {
		t.Fatalf("text should be printed verbatim: %s", output)
	}
}
