package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// VenueOptions parameterise a REST market venue.
type VenueOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Symbols maps an asset (BTC) to the venue's instrument id (BTCUSDT).
	Symbols map[string]string
	// RateLimit is the sustained request rate per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// Invert lists assets whose venue instrument quotes the reverse pair (USDJPY for JPY).
	Invert []string
}

// errCallerGone marks a request abandoned by its caller; it does not count against the venue.
var errCallerGone = errors.New("caller gone")

// venue is the shared HTTP plumbing of every REST source.
type venue struct {
	name      string
	baseURL   string
	userAgent string
	symbols   map[string]string
	invert    map[string]bool
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    zerolog.Logger

	failures uint32
	cooldown time.Duration
	mu       sync.Mutex
	// one breaker per endpoint path, so a failing endpoint never trips its siblings
	breakers map[string]*gobreaker.CircuitBreaker
}

func newVenue(name, defaultBaseURL string, opts VenueOptions, logger zerolog.Logger) *venue {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "feed-attestor/1.0"
	}

	v := &venue{
		name:      name,
		baseURL:   baseURL,
		userAgent: userAgent,
		symbols:   normaliseSymbols(opts.Symbols),
		invert:    make(map[string]bool, len(opts.Invert)),
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		logger:    logger.With().Str("component", "venue").Str("venue", name).Logger(),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, asset := range opts.Invert {
		v.invert[strings.ToUpper(strings.TrimSpace(asset))] = true
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		v.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	v.failures = opts.BreakerFailures
	if v.failures == 0 {
		v.failures = 5
	}
	v.cooldown = opts.BreakerCooldown
	if v.cooldown <= 0 {
		v.cooldown = 30 * time.Second
	}

	return v
}

func normaliseSymbols(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, val := range in {
		out[strings.ToUpper(k)] = val
	}
	return out
}

func (v *venue) breaker(path string) *gobreaker.CircuitBreaker {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cb, ok := v.breakers[path]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        v.name + " " + path,
		MaxRequests: 1,
		Timeout:     v.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= v.failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			v.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("venue breaker state changed")
		},
	})
	v.breakers[path] = cb
	return cb
}

// inverted reports whether the asset's instrument is quoted the other way round.
func (v *venue) inverted(asset string) bool {
	return v.invert[strings.ToUpper(strings.TrimSpace(asset))]
}

// orient converts a venue quote into USD per unit of asset.
func (v *venue) orient(asset string, price decimal.Decimal) decimal.Decimal {
	if !v.inverted(asset) || !price.IsPositive() {
		return price
	}
	return decimal.NewFromInt(1).Div(price)
}

// symbol resolves the venue instrument for an asset, falling back to asset+suffix.
func (v *venue) symbol(asset, suffix string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if s, ok := v.symbols[asset]; ok && s != "" {
		return s
	}
	return asset + suffix
}

// getJSON performs a rate-limited, breaker-guarded GET and decodes the body into out.
func (v *venue) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s rate limit: %v", ErrSourceUnavailable, v.name, err)
		}
	}

	endpoint := v.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	_, err := v.breaker(path).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", v.userAgent)

		resp, err := v.client.Do(req)
		if err != nil {
			if cause := parent.Err(); cause != nil {
				return nil, fmt.Errorf("%w: %w", errCallerGone, cause)
			}
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			if cause := parent.Err(); cause != nil {
				return nil, fmt.Errorf("%w: %w", errCallerGone, cause)
			}
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, parseHTTPError(v.name, resp.StatusCode, payload)
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", v.name, err)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s circuit open", ErrSourceUnavailable, v.name)
		}
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return nil
}

type errorResponse struct {
	Code        json.RawMessage `json:"code"`
	Message     string          `json:"message"`
	Msg         string          `json:"msg"`
	Description string          `json:"description"`
	Error       []string        `json:"error"`
}

func parseHTTPError(venue string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Message)
		case apiErr.Msg != "":
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Msg)
		case apiErr.Description != "":
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Description)
		case len(apiErr.Error) > 0:
			return fmt.Errorf("%s api error (%d): %s", venue, status, strings.Join(apiErr.Error, "; "))
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", venue, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", venue, status)
}

// parseNumber accepts both JSON strings ("1.5") and JSON numbers (1.5).
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %s", string(raw))
	}
	return decimal.NewFromString(n.String())
}
