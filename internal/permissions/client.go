package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/httpx"
)

// QueryParams are the request parameters forwarded to the service, in order.
var QueryParams = []string{
	"targets", "tokens", "sell", "buy", "fees", "market", "delegatee",
	"recipient", "sender", "feeAmountBp", "twap", "receiver",
}

const maxConcurrentGrants = 4

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
	v       *validator.Validate
	now     func() time.Time
}

func NewClient(httpClient *httpx.Client, baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		logger:  logger,
		v:       validator.New(),
		now:     time.Now,
	}
}

// URL returns the GET url for a normalized grant request.
func (c *Client) URL(req action.Request) (string, error) {
	if c.baseURL == "" {
		return "", clierr.New(clierr.CodeUsage, "permission service url is not configured (DEFIC_PERMISSIONS_URL)")
	}
	operation := req.Operation
	if operation == "" {
		operation = action.OperationAllow
	}
	path := fmt.Sprintf("%s/%s:%s/%s/%s/%s/%s",
		c.baseURL,
		url.PathEscape(req.Chain),
		url.PathEscape(req.PolicyContract),
		url.PathEscape(req.Role),
		url.PathEscape(operation),
		url.PathEscape(req.Protocol),
		url.PathEscape(req.Action),
	)
	vals := url.Values{}
	for _, name := range QueryParams {
		if name == "sender" && req.Sender != "" {
			vals.Set(name, req.Sender)
			continue
		}
		for _, v := range queryValues(req.Params, name) {
			vals.Add(name, v)
		}
	}
	if len(vals) == 0 {
		return path, nil
	}
	return path + "?" + vals.Encode(), nil
}

func queryValues(p action.Params, name string) []string {
	if !p.Has(name) {
		return nil
	}
	switch v := p[name].(type) {
	case bool:
		return []string{strconv.FormatBool(v)}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	}
	values, _ := p.Strings(name)
	if values == nil {
		if s, ok := p.String(name); ok {
			values = []string{s}
		}
	}
	return values
}

// Grant requests the permission batch for one normalized request.
func (c *Client) Grant(ctx context.Context, req action.Request) (File, error) {
	target, err := c.URL(req)
	if err != nil {
		return File{}, err
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return File{}, clierr.Wrap(clierr.CodeInternal, "build permission request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log := c.logger.With("protocol", req.Protocol, "action", req.Action, "chain", req.Chain, "operation", req.Operation)
	log.Debug("requesting permissions", "path", hReq.URL.Path)
	started := c.now()

	var batch Batch
	if err := c.http.DoJSON(ctx, hReq, &batch); err != nil {
		log.Warn("permission request failed", "err", err)
		return File{}, err
	}
	if err := c.v.Struct(batch); err != nil {
		log.Warn("permission response rejected", "err", err)
		return File{}, clierr.Wrap(clierr.CodeUnavailable, "permission service returned a malformed batch", err)
	}
	log.Info("permissions granted", "transactions", len(batch.Transactions), "elapsed", c.now().Sub(started))

	operation := req.Operation
	if operation == "" {
		operation = action.OperationAllow
	}
	return ToFile(batch, Source{Protocol: req.Protocol, Action: req.Action, Operation: operation, Avatar: req.Sender}, c.now()), nil
}

// GrantAll issues independent requests concurrently. Results keep the input
// order; the first failure cancels the rest.
func (c *Client) GrantAll(ctx context.Context, reqs []action.Request) ([]File, error) {
	out := make([]File, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentGrants)
	for i, req := range reqs {
		g.Go(func() error {
			f, err := c.Grant(gctx, req)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
