// Package httpsource fetches raw trade records from the navi and inquiry
// source APIs over HTTP.
//
// Each fetcher sits behind its own circuit breaker so a failing source is
// skipped quickly instead of stalling every listing, and caches the last
// successful response per user for a short TTL.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
	"github.com/tjfontaine/tradeflow/internal/pkg/safehttp"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultCacheTTL    = 30 * time.Second
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second

	// maxBodyBytes bounds a single source response.
	maxBodyBytes = 8 << 20
)

// ErrUnavailable is returned while the breaker is open or probing.
var ErrUnavailable = errors.New("source unavailable")

type naviResponse struct {
	Requests []domain.NaviRequest `json:"requests"`
}

type inquiryResponse struct {
	Threads []domain.InquiryThread `json:"threads"`
}

// Fetcher implements ports.SourceFetcher for one origin.
type Fetcher struct {
	origin  domain.Origin
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *cache.Cache
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client, e.g. with a replaying recorder.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a fetcher for origin configured by cfg.
func New(origin domain.Origin, cfg config.SourceConfig, opts ...Option) (*Fetcher, error) {
	if !origin.Valid() {
		return nil, domain.ErrUnsupportedOrigin(origin)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s source: base_url is required", origin)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%s source: invalid base_url: %w", origin, err)
	}

	client := &http.Client{Timeout: config.ParseDuration(cfg.Timeout, defaultTimeout)}
	if cfg.DenyPrivateNetworks {
		allow, err := safehttp.ParsePrefixes(cfg.AllowNetworks)
		if err != nil {
			return nil, fmt.Errorf("%s source: %w", origin, err)
		}
		client.Transport = safehttp.NewTransport(safehttp.Policy{Allow: allow})
	}

	f := &Fetcher{
		origin:  origin,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	ttl := config.ParseDuration(cfg.CacheTTL, defaultCacheTTL)
	f.cache = cache.New(ttl, 2*ttl+time.Second)

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "source-" + string(origin),
		MaxRequests: 1,
		Timeout:     config.ParseDuration(cfg.Breaker.OpenTimeout, defaultOpenTimeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("source circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return f, nil
}

// Origin reports which raw source this fetcher reads.
func (f *Fetcher) Origin() domain.Origin {
	return f.origin
}

// State exposes the breaker state for health reporting.
func (f *Fetcher) State() gobreaker.State {
	return f.breaker.State()
}

// FetchRaw lists the raw records visible to userID.
func (f *Fetcher) FetchRaw(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	if cached, ok := f.cache.Get(userID); ok {
		return cloneRaws(cached.([]domain.RawRecord)), nil
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %v", f.origin, ErrUnavailable, err)
		}
		return nil, err
	}

	raws := result.([]domain.RawRecord)
	f.cache.Set(userID, raws, cache.DefaultExpiration)
	return cloneRaws(raws), nil
}

// Invalidate drops the cached response for userID.
func (f *Fetcher) Invalidate(userID string) {
	f.cache.Delete(userID)
}

func (f *Fetcher) fetch(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	path := "/requests"
	if f.origin == domain.OriginOnlineInquiry {
		path = "/threads"
	}
	endpoint := f.baseURL + path + "?user_id=" + url.QueryEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", f.origin, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.origin, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", f.origin, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", f.origin, resp.StatusCode)
	}

	return f.decode(body)
}

func (f *Fetcher) decode(body []byte) ([]domain.RawRecord, error) {
	switch f.origin {
	case domain.OriginDirectNavi:
		var out naviResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", f.origin, err)
		}
		raws := make([]domain.RawRecord, 0, len(out.Requests))
		for i := range out.Requests {
			raws = append(raws, domain.RawRecord{Origin: f.origin, Navi: &out.Requests[i]})
		}
		return raws, nil
	default:
		var out inquiryResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", f.origin, err)
		}
		raws := make([]domain.RawRecord, 0, len(out.Threads))
		for i := range out.Threads {
			raws = append(raws, domain.RawRecord{Origin: f.origin, Inquiry: &out.Threads[i]})
		}
		return raws, nil
	}
}

// cloneRaws copies the slice so callers cannot reorder the cached one.
// The payloads themselves are treated as read-only.
func cloneRaws(raws []domain.RawRecord) []domain.RawRecord {
	out := make([]domain.RawRecord, len(raws))
	copy(out, raws)
	return out
}

var _ ports.SourceFetcher = (*Fetcher)(nil)
