package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const safe = "0x1111111111111111111111111111111111111111"

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run(args)
	return code, stdout.String(), stderr.String()
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("defic request build"); got != "request build" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"tokens=USDC,DAI", " market = Core"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if params["tokens"] != "USDC,DAI" || params["market"] != "Core" {
		t.Fatalf("unexpected params %#v", params)
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected error for a pair without =")
	}
}

func TestRunnerProtocolsList(t *testing.T) {
	code, stdout, stderr := run(t, "protocols", "list", "--chain", "gno", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(stdout), &items); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	for _, item := range items {
		if item["id"] == "lido" {
			t.Fatalf("lido is not deployed on gno: %s", stdout)
		}
	}
	if len(items) == 0 {
		t.Fatal("expected protocols on gno")
	}
}

func TestRunnerBuildLidoStake(t *testing.T) {
	code, stdout, stderr := run(t, "request", "build",
		"--protocol", "lido", "--action", "stake", "--chain", "ethereum",
		"--sender", safe, "--param", "amount=2",
		"--results-only", "--select", "payload.kind,payload.safeTx.value")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(stdout), &data); err != nil {
		t.Fatalf("decode: %v output=%s", err, stdout)
	}
	if data["payload.kind"] != "safeTx" || data["payload.safeTx.value"] != "2000000000000000000" {
		t.Fatalf("unexpected payload %v", data)
	}
}

func TestRunnerValidationErrorEnvelope(t *testing.T) {
	code, stdout, stderr := run(t, "request", "validate", "--protocol", "aave_v3", "--action", "supply", "--chain", "eth", "--mode", "grant", "--results-only")
	if code != 14 {
		t.Fatalf("expected exit 14, got %d stdout=%s stderr=%s", code, stdout, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr)
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	body := env["error"].(map[string]any)
	if body["type"] != "validation_error" || !strings.HasPrefix(body["user_message"].(string), "The request is incomplete or invalid") {
		t.Fatalf("unexpected error body %v", body)
	}
	if body["details"] == nil {
		t.Fatal("expected the validation findings in details")
	}
}

func TestRunnerGrantBatchFromInputFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		to := "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
		if strings.Contains(r.URL.Path, "/lido/") {
			to = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chainId":      1,
			"transactions": []map[string]any{{"to": to, "value": "0", "data": "0x"}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	input := filepath.Join(dir, "requests.json")
	doc := `[
		{"protocol": "aave_v3", "action": "supply", "chain": "eth", "params": {"tokens": ["USDC"]}},
		{"protocol": "lido", "action": "stake", "chain": "eth"}
	]`
	if err := os.WriteFile(input, []byte(doc), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	written := filepath.Join(dir, "batch.json")
	code, stdout, stderr := run(t, "permissions", "grant",
		"--input", input, "--policy-contract", safe, "--role", "treasury", "--operation", "allow",
		"--permissions-url", srv.URL, "--write", written, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var file map[string]any
	if err := json.Unmarshal([]byte(stdout), &file); err != nil {
		t.Fatalf("decode: %v output=%s", err, stdout)
	}
	meta := file["meta"].(map[string]any)
	if meta["transactionCount"].(float64) != 2 {
		t.Fatalf("unexpected meta %v", meta)
	}
	if _, err := os.Stat(written); err != nil {
		t.Fatalf("batch file not written: %v", err)
	}

	code, stdout, stderr = run(t, "permissions", "batch", written, written, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0 for batch, got %d stderr=%s", code, stderr)
	}
	if err := json.Unmarshal([]byte(stdout), &file); err != nil {
		t.Fatalf("decode: %v output=%s", err, stdout)
	}
	if file["meta"].(map[string]any)["transactionCount"].(float64) != 4 {
		t.Fatalf("combined file should concatenate transactions: %s", stdout)
	}
}

func TestRunnerGrantWithoutServiceURL(t *testing.T) {
	code, _, stderr := run(t, "permissions", "grant", "--protocol", "lido", "--action", "deposit", "--chain", "eth",
		"--policy-contract", safe, "--role", "r", "--operation", "allow")
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "DEFIC_PERMISSIONS_URL") {
		t.Fatalf("error should point at the setting: %s", stderr)
	}
}

func TestRunnerTokensResolve(t *testing.T) {
	code, stdout, stderr := run(t, "tokens", "resolve", "eth", "USDC", "--chain", "eth", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(stdout), &items); err != nil {
		t.Fatalf("decode: %v output=%s", err, stdout)
	}
	if len(items) != 2 || items[0]["native"] != true || items[0]["symbol"] != "WETH" {
		t.Fatalf("unexpected resolution %v", items)
	}
}

func TestRunnerVersion(t *testing.T) {
	code, stdout, _ := run(t, "version")
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("unexpected version output %q (exit %d)", stdout, code)
	}
}
