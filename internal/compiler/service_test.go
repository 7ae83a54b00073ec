package compiler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/builder"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/httpx"
	"github.com/ggonzalez94/defi-compiler/internal/permissions"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/schema"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
	"github.com/ggonzalez94/defi-compiler/internal/validate"
)

const (
	safe = "0x1111111111111111111111111111111111111111"
	pool = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
)

type fakeGranter struct {
	mu    sync.Mutex
	seen  []action.Request
	err   error
	chain string
}

func (f *fakeGranter) Grant(_ context.Context, req action.Request) (permissions.File, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.err != nil {
		return permissions.File{}, f.err
	}
	chain := f.chain
	if chain == "" {
		chain = "1"
	}
	batch := permissions.Batch{
		ChainID:      permissions.ChainID(chain),
		Transactions: []execution.Transaction{{To: pool, Value: "0", Data: "0x"}},
	}
	return permissions.ToFile(batch, permissions.Source{Protocol: req.Protocol, Action: req.Action, Operation: req.Operation}, time.UnixMilli(1)), nil
}

func (f *fakeGranter) GrantAll(ctx context.Context, reqs []action.Request) ([]permissions.File, error) {
	out := make([]permissions.File, 0, len(reqs))
	for _, r := range reqs {
		file, err := f.Grant(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, file)
	}
	return out, nil
}

func newService(t *testing.T, grants Granter) *Service {
	t.Helper()
	reg := registry.Default()
	builders, err := builder.NewRegistry(reg, tokens.Default(), builder.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	if err != nil {
		t.Fatalf("builder registry: %v", err)
	}
	return New(reg, tokens.Default(), builders, grants, nil)
}

func grantArgs() map[string]any {
	return map[string]any{
		"action":         "supply",
		"chain":          "ethereum",
		"policyContract": safe,
		"roleKey":        "treasury",
		"operation":      "allow",
		"tokens":         "USDC, DAI",
	}
}

func TestBuildFromToolArguments(t *testing.T) {
	svc := newService(t, nil)
	res, err := svc.Build(FromArgs("aave_v3", map[string]any{
		"action": "lend",
		"chain":  "eth",
		"avatar": safe,
		"asset":  "USDC",
		"amount": "1.5",
	}))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if res.Request.Action != "deposit" {
		t.Fatalf("alias not applied: %+v", res.Request)
	}
	if res.Payload.Kind != execution.KindSafeTx || res.Payload.SafeTx.To != pool {
		t.Fatalf("unexpected payload %+v", res.Payload)
	}
	if res.Payload.SafeTx.InputValues["amount"] != "1500000" {
		t.Fatalf("unexpected amount %q", res.Payload.SafeTx.InputValues["amount"])
	}
}

func TestInvalidRequestNeverReachesBuilder(t *testing.T) {
	svc := newService(t, nil)
	res, err := svc.Build(action.Request{Protocol: "aave_v3", Action: "deposit", Chain: "eth", Params: action.Params{"targets": []string{"USDC"}, "amount": "1"}})
	if !clierr.Is(err, clierr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Payload.Kind != "" {
		t.Fatalf("no payload expected, got %+v", res.Payload)
	}
	var resultErr *validate.ResultError
	if !errors.As(err, &resultErr) || resultErr.Result.Errors[0].Parameter != "sender" {
		t.Fatalf("expected the missing sender to be reported, got %v", err)
	}
}

func TestGrantPassesNormalizedRequest(t *testing.T) {
	fake := &fakeGranter{}
	res, err := newService(t, fake).Grant(context.Background(), FromArgs("aave_v3", grantArgs()))
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if len(fake.seen) != 1 {
		t.Fatalf("expected one remote call, got %d", len(fake.seen))
	}
	got := fake.seen[0]
	if got.Action != "deposit" || got.Chain != "eth" || got.Role != "treasury" {
		t.Fatalf("request not normalized: %+v", got)
	}
	targets, _ := got.Params.Strings("targets")
	if strings.Join(targets, ",") != "USDC,DAI" {
		t.Fatalf("unexpected targets %v", targets)
	}
	if res.File.Meta.TransactionCount != 1 {
		t.Fatalf("unexpected file %+v", res.File)
	}
}

func TestBuilderOnlyActionIsNotGrantable(t *testing.T) {
	fake := &fakeGranter{}
	args := grantArgs()
	args["action"] = "presign"
	args["sell"] = "WETH"
	_, err := newService(t, fake).Grant(context.Background(), FromArgs("cowswap", args))
	if err == nil {
		t.Fatal("expected presign grant to fail")
	}
	if len(fake.seen) != 0 {
		t.Fatal("rejected requests must not reach the service")
	}
}

func TestGrantManyValidatesEverythingFirst(t *testing.T) {
	fake := &fakeGranter{}
	svc := newService(t, fake)
	bad := grantArgs()
	delete(bad, "roleKey")
	_, err := svc.GrantMany(context.Background(), []action.Request{FromArgs("aave_v3", grantArgs()), FromArgs("spark", bad)})
	if !clierr.Is(err, clierr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "request 2 (spark deposit)") {
		t.Fatalf("error should name the failing request: %v", err)
	}
	if len(fake.seen) != 0 {
		t.Fatalf("no remote call expected, got %d", len(fake.seen))
	}

	lido := map[string]any{"action": "stake", "chain": "eth", "policyContract": safe, "role": "treasury", "operation": "allow"}
	file, err := svc.GrantMany(context.Background(), []action.Request{FromArgs("aave_v3", grantArgs()), FromArgs("lido", lido)})
	if err != nil {
		t.Fatalf("grant many failed: %v", err)
	}
	if file.Meta.TransactionCount != 2 || strings.Join(file.Meta.Protocols, ",") != "aave_v3,lido" {
		t.Fatalf("unexpected aggregate %+v", file.Meta)
	}
}

func TestGrantWithoutService(t *testing.T) {
	_, err := newService(t, nil).Grant(context.Background(), FromArgs("aave_v3", grantArgs()))
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestSummaryHidesRemoteDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded at line 42"))
	}))
	defer srv.Close()

	client := permissions.NewClient(httpx.New(5*time.Second, 0), srv.URL, "", nil)
	res, err := newService(t, client).Grant(context.Background(), FromArgs("aave_v3", grantArgs()))
	summary := Summarize(res.File, err)
	if summary.OK || summary.Batch != nil {
		t.Fatalf("expected failure summary, got %+v", summary)
	}
	if summary.Message != "The permission service is currently unavailable." {
		t.Fatalf("unexpected message %q", summary.Message)
	}
	if strings.Contains(summary.String(), "exploded") || strings.Contains(summary.String(), "502") {
		t.Fatalf("remote details leaked: %s", summary)
	}
}

func TestSummaryEmbedsBatch(t *testing.T) {
	res, err := newService(t, &fakeGranter{}).Grant(context.Background(), FromArgs("aave_v3", grantArgs()))
	summary := Summarize(res.File, err)
	if !summary.OK {
		t.Fatalf("expected success, got %q", summary.Message)
	}
	text := summary.String()
	if !strings.HasPrefix(text, "Prepared 1 transaction for aave_v3 on chain 1.") {
		t.Fatalf("unexpected summary %q", text)
	}
	if !strings.Contains(text, "```json") || !strings.Contains(text, pool) {
		t.Fatalf("batch not embedded: %s", text)
	}

	build, err := newService(t, nil).Build(action.Request{Protocol: "lido", Action: "deposit", Chain: "eth", Sender: safe, Params: action.Params{"amount": "1"}})
	bs := SummarizeBuild(build.Payload, err)
	if !bs.OK || bs.Payload == nil || !strings.Contains(bs.Message, "Propose the transaction") {
		t.Fatalf("unexpected build summary %+v", bs)
	}
}

func TestContractsMatchTargets(t *testing.T) {
	svc := newService(t, nil)
	grant := svc.Contracts(schema.TargetGrant)
	build := svc.Contracts(schema.TargetBuild)
	if len(build) <= len(grant) {
		t.Fatalf("build contracts should include builder-only protocols: %d vs %d", len(build), len(grant))
	}
}
