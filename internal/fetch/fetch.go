package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultTimeout     = 15 * time.Second

	// Request pacing against the upstream API.
	rateLimit = 5
	rateBurst = 10

	userAgent = "mixscrap/1.0 (+https://example.invalid)"
)

// Error is returned once every retry attempt for a URL has been exhausted.
type Error struct {
	URL  string
	Last error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Policy is the retry state machine shared by every network call site:
// up to MaxAttempts tries, sleeping Delay(n) after the nth failure. The
// final attempt's failure propagates to the caller.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before retrying after the given 1-based attempt.
// Backoff is linear in the attempt number, not exponential.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Do runs fn under the policy. Each attempt's failure is reported through
// onFail before the backoff sleep; the context aborts the wait.
func (p Policy) Do(ctx context.Context, fn func() error, onFail func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if onFail != nil {
			onFail(attempt, lastErr)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Client performs JSON GETs with rate limiting and bounded retry.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	policy      Policy
}

// NewClient creates a fetch client. Zero values fall back to the defaults
// (3 attempts, 1s linear backoff, 15s request timeout).
func NewClient(timeout time.Duration, policy Policy) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	return &Client{
		policy:      policy,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// GetJSON fetches the URL and decodes the body into result. Every call
// independently retries from zero; exhaustion surfaces as *Error.
func (c *Client) GetJSON(ctx context.Context, url string, result interface{}) error {
	err := c.policy.Do(ctx, func() error {
		return c.getOnce(ctx, url, result)
	}, func(attempt int, err error) {
		log.Printf("[Fetch] GET %s failed (attempt %d/%d): %v", url, attempt, c.policy.MaxAttempts, err)
	})
	if err != nil {
		return &Error{URL: url, Last: err}
	}
	return nil
}

func (c *Client) getOnce(ctx context.Context, url string, result interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
