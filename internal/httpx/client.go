package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/version"
)

// Client issues JSON requests and maps HTTP failures onto error codes:
// 401/403 auth, 429 rate limited, 5xx and transport failures unavailable,
// any other non-2xx (404 included) unsupported.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

// New builds a client. retries is the number of extra attempts on 429, 5xx
// and transport failures; the compiler core passes 0.
func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  version.UserAgent(),
	}
}

// DoJSON decodes a successful response into out. A nil out discards the body.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	buf, err := c.DoBytes(ctx, req)
	switch {
	case err != nil:
		return err
	case out == nil:
		return nil
	case len(bytes.TrimSpace(buf)) == 0:
		return clierr.New(clierr.CodeUnavailable, "remote service returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode remote JSON", err)
	}
	return nil
}

// DoBytes returns the raw response body of a successful request.
func (c *Client) DoBytes(ctx context.Context, req *http.Request) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}
		var buf []byte
		var retry bool
		buf, retry, err = c.send(ctx, req)
		if err == nil || !retry {
			return buf, err
		}
	}
	return nil, err
}

// send performs one attempt and reports whether a failure may be retried.
func (c *Client) send(ctx context.Context, req *http.Request) ([]byte, bool, error) {
	attempt := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, false, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
		attempt.Body = body
	}

	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		return nil, true, mapNetError(err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, clierr.Wrap(clierr.CodeUnavailable, "read remote response", err)
	}
	if retry, err := statusError(resp.StatusCode); err != nil {
		return nil, retry, err
	}
	return buf, false, nil
}

func statusError(status int) (bool, error) {
	switch {
	case status >= 200 && status < 300:
		return false, nil
	case status == http.StatusTooManyRequests:
		return true, clierr.New(clierr.CodeRateLimited, "remote service rate limited request")
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return false, clierr.New(clierr.CodeAuth, "remote service authentication failed")
	case status >= http.StatusInternalServerError:
		return true, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("remote service unavailable (status %d)", status))
	case status == http.StatusNotFound:
		return false, clierr.New(clierr.CodeUnsupported, "remote service does not know this combination")
	default:
		return false, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("remote service returned unexpected status %d", status))
	}
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "remote service timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "remote request failed", err)
}

func backoff(attempt int) time.Duration {
	d := 120 * time.Millisecond << uint(attempt-1)
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d + time.Duration(rand.Intn(75))*time.Millisecond
}
