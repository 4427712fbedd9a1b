// Package origin fetches assets from their source of truth on a total
// cache miss.
package origin

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/circuit"
	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/retry"
	"github.com/labviz/molcache/pkg/types"
)

// KeyPlaceholder is replaced by the escaped asset key in URLTemplate.
const KeyPlaceholder = "{key}"

// HTTPConfig configures an HTTPFetcher
type HTTPConfig struct {
	URLTemplate  string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Retry        retry.Config
	Breaker      circuit.Config
	// BreakerDisabled sends every request regardless of recent failures.
	BreakerDisabled bool
}

// HTTPFetcher GETs assets from a templated URL with retries and a circuit
// breaker in front of the upstream.
type HTTPFetcher struct {
	config  HTTPConfig
	client  *http.Client
	retryer *retry.Retryer
	breaker *circuit.Breaker
	logger  *zap.Logger
}

var _ types.OriginFetcher = (*HTTPFetcher)(nil)

// HTTPOption customises an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewHTTPFetcher validates config and builds the fetcher.
func NewHTTPFetcher(config HTTPConfig, opts ...HTTPOption) (*HTTPFetcher, error) {
	if !strings.Contains(config.URLTemplate, KeyPlaceholder) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"origin url template %q has no %s placeholder", config.URLTemplate, KeyPlaceholder)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 256 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "molcache"
	}

	f := &HTTPFetcher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("origin")

	retryConfig := config.Retry
	if retryConfig.OnRetry == nil {
		retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
			f.logger.Warn("retrying origin fetch",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
	}
	f.retryer = retry.New(retryConfig)

	if !config.BreakerDisabled {
		breakerConfig := config.Breaker
		userHook := breakerConfig.OnStateChange
		breakerConfig.OnStateChange = func(name string, from, to circuit.State) {
			f.logger.Info("origin circuit changed state",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if userHook != nil {
				userHook(name, from, to)
			}
		}
		f.breaker = circuit.New("origin", breakerConfig)
	}
	return f, nil
}

// Fetch implements types.OriginFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.NewError(errors.ErrCodeNotFound, "empty key").WithComponent("origin")
	}

	var body []byte
	err := f.retryer.Do(ctx, func(ctx context.Context) error {
		return f.guard(ctx, func(ctx context.Context) error {
			data, err := f.get(ctx, key)
			if err == nil {
				body = data
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// BreakerState reports the origin circuit state, or closed when disabled.
func (f *HTTPFetcher) BreakerState() circuit.State {
	if f.breaker == nil {
		return circuit.StateClosed
	}
	return f.breaker.State()
}

// URL returns the request URL for key.
func (f *HTTPFetcher) URL(key string) string {
	return strings.ReplaceAll(f.config.URLTemplate, KeyPlaceholder, url.PathEscape(key))
}

func (f *HTTPFetcher) guard(ctx context.Context, fn func(context.Context) error) error {
	if f.breaker == nil {
		return fn(ctx)
	}
	return f.breaker.Execute(ctx, fn)
}

func (f *HTTPFetcher) get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(key), nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOriginFailed, "build request", err).
			WithComponent("origin").WithKey(key).WithRetryable(false)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.ErrCodeOperationTimeout, "origin request timed out", err).
				WithComponent("origin").WithKey(key)
		}
		return nil, errors.Wrap(errors.ErrCodeOriginFailed, "origin request failed", err).
			WithComponent("origin").WithKey(key)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, errors.NewError(errors.ErrCodeNotFound, "origin has no such asset").
			WithComponent("origin").WithKey(key).WithDetail("status", resp.StatusCode)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Newf(errors.ErrCodeOriginFailed, "origin answered %s", resp.Status).
			WithComponent("origin").WithKey(key).WithDetail("status", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrCodeOriginFailed, "origin answered %s", resp.Status).
			WithComponent("origin").WithKey(key).WithDetail("status", resp.StatusCode).
			WithRetryable(false)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOriginFailed, "read origin body", err).
			WithComponent("origin").WithKey(key)
	}
	if int64(len(data)) > f.config.MaxBodyBytes {
		return nil, errors.NewError(errors.ErrCodeOriginFailed,
			fmt.Sprintf("origin body exceeds %d bytes", f.config.MaxBodyBytes)).
			WithComponent("origin").WithKey(key).WithRetryable(false)
	}
	return data, nil
}
