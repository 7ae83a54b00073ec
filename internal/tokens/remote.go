package tokens

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-compiler/internal/cache"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/httpx"
)

// Source fetches a remote catalogue, keeping the last good copy in a cache
// store. Cache may be nil.
type Source struct {
	URL    string
	Client *httpx.Client
	Cache  *cache.Store
	TTL    time.Duration
	Logger *slog.Logger
}

// Load returns a fresh cached copy when one exists, otherwise fetches the
// catalogue. A stale cached copy is used when the fetch fails.
func (s Source) Load(ctx context.Context) (Catalogue, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := cache.Key("tokens", s.URL)

	var stale []byte
	if s.Cache != nil {
		res, err := s.Cache.Get(key, -1)
		if err != nil {
			logger.Warn("token catalogue cache read failed", "error", err)
		} else if res.Hit {
			if !res.Stale {
				if cat, err := ParseCatalogue(res.Value); err == nil {
					logger.Debug("token catalogue served from cache", "source", res.Source, "age", res.Age)
					return cat, nil
				}
				_ = s.Cache.Delete(key)
			} else {
				stale = res.Value
			}
		}
	}

	cat, raw, err := s.fetch(ctx)
	if err != nil {
		if stale != nil {
			if cat, perr := ParseCatalogue(stale); perr == nil {
				logger.Warn("token catalogue fetch failed, using stale copy", "source", s.URL, "error", err)
				return cat, nil
			}
		}
		return Catalogue{}, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(key, s.URL, raw, s.TTL); err != nil {
			logger.Warn("token catalogue cache write failed", "error", err)
		}
	}
	logger.Info("token catalogue fetched", "source", s.URL, "tokens", len(cat.Tokens))
	return cat, nil
}

func (s Source) fetch(ctx context.Context) (Catalogue, []byte, error) {
	if strings.TrimSpace(s.URL) == "" {
		return Catalogue{}, nil, clierr.New(clierr.CodeUsage, "token catalogue url is required")
	}
	client := s.Client
	if client == nil {
		client = httpx.New(10*time.Second, 0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Catalogue{}, nil, clierr.Wrap(clierr.CodeUsage, "build token catalogue request", err)
	}
	raw, err := client.DoBytes(ctx, req)
	if err != nil {
		return Catalogue{}, nil, err
	}
	cat, err := ParseCatalogue(raw)
	if err != nil {
		return Catalogue{}, nil, clierr.Wrap(clierr.CodeUnavailable, "remote token catalogue is malformed", err)
	}
	return cat, raw, nil
}

func sortTokens(v []TokenInfo) {
	sort.Slice(v, func(i, j int) bool {
		if v[i].ChainID != v[j].ChainID {
			return v[i].ChainID < v[j].ChainID
		}
		return strings.ToUpper(v[i].Symbol) < strings.ToUpper(v[j].Symbol)
	})
}
