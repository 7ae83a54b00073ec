package permissions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/httpx"
)

const (
	policy = "0x1111111111111111111111111111111111111111"
	usdc   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	pool   = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
)

func batchBody(chainID any, to string) map[string]any {
	return map[string]any{
		"version":   "1.0",
		"chainId":   chainID,
		"createdAt": 1700000000000,
		"meta":      map[string]any{"name": "remote"},
		"transactions": []map[string]any{
			{"to": to, "value": "0", "data": "0xdeadbeef"},
		},
	}
}

func newTestClient(srv *httptest.Server, apiKey string) *Client {
	c := NewClient(httpx.New(5*time.Second, 0), srv.URL+"/permissions/", apiKey, nil)
	c.now = func() time.Time { return time.UnixMilli(1_800_000_000_000) }
	return c
}

func supplyRequest() action.Request {
	return action.Request{
		Protocol:       "aave_v3",
		Action:         "deposit",
		Chain:          "eth",
		PolicyContract: policy,
		Role:           "treasury ops",
		Params: action.Params{
			"targets": []string{"USDC", "DAI"},
			"market":  "Core",
			"twap":    true,
			"ignored": "x",
		},
	}
}

func TestGrantRequestShape(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewEncoder(w).Encode(batchBody("1", pool))
	}))
	defer srv.Close()

	file, err := newTestClient(srv, "secret").Grant(context.Background(), supplyRequest())
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if got.Method != http.MethodGet {
		t.Fatalf("expected GET, got %s", got.Method)
	}
	wantPath := "/permissions/eth:" + policy + "/treasury ops/allow/aave_v3/deposit"
	if got.URL.Path != wantPath {
		t.Fatalf("unexpected path %q", got.URL.Path)
	}
	if !strings.Contains(got.URL.RawPath, "treasury%20ops") && !strings.Contains(got.RequestURI, "treasury%20ops") {
		t.Fatalf("role was not escaped: %s", got.RequestURI)
	}
	q := got.URL.Query()
	if targets := q["targets"]; len(targets) != 2 || targets[0] != "USDC" || targets[1] != "DAI" {
		t.Fatalf("unexpected targets %v", targets)
	}
	if q.Get("market") != "Core" || q.Get("twap") != "true" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Has("ignored") {
		t.Fatal("unknown parameters must not be forwarded")
	}
	if got.Header.Get("Authorization") != "Bearer secret" {
		t.Fatalf("missing bearer token, headers: %v", got.Header)
	}

	if file.ChainID != "1" || file.CreatedAt != 1700000000000 {
		t.Fatalf("unexpected file header %+v", file)
	}
	if file.Meta.Name != "allow aave_v3 deposit" || file.Meta.TransactionCount != 1 {
		t.Fatalf("unexpected meta %+v", file.Meta)
	}
	if file.Transactions[0].To != pool {
		t.Fatalf("unexpected transactions %+v", file.Transactions)
	}
}

func TestGrantSenderAndRevoke(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		if !strings.Contains(r.URL.Path, "/revoke/") {
			t.Errorf("expected revoke path, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(batchBody(100, pool))
	}))
	defer srv.Close()

	req := supplyRequest()
	req.Chain = "gno"
	req.Operation = action.OperationRevoke
	req.Sender = policy
	file, err := newTestClient(srv, "").Grant(context.Background(), req)
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if query.Get("sender") != policy {
		t.Fatalf("sender not forwarded: %v", query)
	}
	if file.ChainID != "100" {
		t.Fatalf("numeric chain id should be kept as string, got %q", file.ChainID)
	}
	if file.Meta.CreatedFromSafeAddress != policy {
		t.Fatalf("unexpected avatar %q", file.Meta.CreatedFromSafeAddress)
	}
}

func TestGrantStatusMapping(t *testing.T) {
	cases := map[int]clierr.Code{
		http.StatusUnauthorized:        clierr.CodeAuth,
		http.StatusTooManyRequests:     clierr.CodeRateLimited,
		http.StatusNotFound:            clierr.CodeUnsupported,
		http.StatusInternalServerError: clierr.CodeUnavailable,
	}
	for status, code := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := newTestClient(srv, "").Grant(context.Background(), supplyRequest())
		srv.Close()
		if !clierr.Is(err, code) {
			t.Fatalf("status %d: expected code %d, got %v", status, code, err)
		}
	}
}

func TestGrantRejectsMalformedBatch(t *testing.T) {
	bodies := map[string]any{
		"no transactions": map[string]any{"chainId": "1", "transactions": []any{}},
		"bad address":     batchBody("1", "0x123"),
		"bad chain":       batchBody("mainnet", pool),
	}
	for name, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(body)
		}))
		_, err := newTestClient(srv, "").Grant(context.Background(), supplyRequest())
		srv.Close()
		if !clierr.Is(err, clierr.CodeUnavailable) {
			t.Fatalf("%s: expected unavailable, got %v", name, err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()
	if _, err := newTestClient(srv, "").Grant(context.Background(), supplyRequest()); !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable for undecodable body, got %v", err)
	}
}

func TestGrantWithoutBaseURL(t *testing.T) {
	c := NewClient(httpx.New(time.Second, 0), " ", "", nil)
	_, err := c.Grant(context.Background(), supplyRequest())
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "DEFIC_PERMISSIONS_URL") {
		t.Fatalf("error should name the setting: %v", err)
	}
}

func TestGrantAllKeepsOrderAndAggregates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"), goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		to := pool
		if strings.HasSuffix(r.URL.Path, "/erc20/approve") {
			to = usdc
		}
		_ = json.NewEncoder(w).Encode(batchBody("1", to))
	}))
	defer srv.Close()

	approve := supplyRequest()
	approve.Protocol, approve.Action = "erc20", "approve"
	reqs := []action.Request{supplyRequest(), approve, supplyRequest()}

	files, err := newTestClient(srv, "").GrantAll(context.Background(), reqs)
	if err != nil {
		t.Fatalf("grant all failed: %v", err)
	}
	if calls.Load() != 3 || len(files) != 3 {
		t.Fatalf("expected 3 calls and files, got %d and %d", calls.Load(), len(files))
	}
	if files[1].Transactions[0].To != usdc {
		t.Fatalf("results out of order: %+v", files[1])
	}

	agg, err := Aggregate(files)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.Meta.TransactionCount != 3 || len(agg.Transactions) != 3 {
		t.Fatalf("duplicates must be kept, got %d", len(agg.Transactions))
	}
	if strings.Join(agg.Meta.Protocols, ",") != "aave_v3,erc20" {
		t.Fatalf("unexpected protocols %v", agg.Meta.Protocols)
	}
	if agg.CreatedAt != 1700000000000 {
		t.Fatalf("unexpected createdAt %d", agg.CreatedAt)
	}
	srv.CloseClientConnections()
}

func TestGrantAllStopsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/erc20/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(batchBody("1", pool))
	}))
	defer srv.Close()

	approve := supplyRequest()
	approve.Protocol, approve.Action = "erc20", "approve"
	_, err := newTestClient(srv, "").GrantAll(context.Background(), []action.Request{supplyRequest(), approve})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestAggregateRejectsMixedChains(t *testing.T) {
	tx := execution.Transaction{To: pool, Value: "0"}
	a := ToFile(Batch{ChainID: "1", Transactions: []execution.Transaction{tx}}, Source{Protocol: "a", Action: "x", Operation: "allow"}, time.UnixMilli(5))
	b := ToFile(Batch{ChainID: "100", Transactions: []execution.Transaction{tx}}, Source{Protocol: "b", Action: "x", Operation: "allow"}, time.UnixMilli(9))
	if a.CreatedAt != 5 || a.Version != "1.0" {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if _, err := Aggregate([]File{a, b}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := Aggregate(nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for empty input, got %v", err)
	}
}
