// Package fetch provides the polite HTTP client the workflow hooks use to
// pull pages and bulk files from the source portals. It rotates user agents,
// rate limits per host, and retries transient failures with jittered
// exponential backoff.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/harvest"
)

// Config controls client behavior.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	PerHostRPS     float64
	Burst          int
	UserAgents     []string
}

// Client is a retrying HTTP GET client. Safe for concurrent use.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *hostLimiter
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	uas int
}

// New builds a Client. Zero config fields fall back to sensible values.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: newHostLimiter(cfg.PerHostRPS, cfg.Burst),
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// UserAgent returns the next user agent in rotation, or "" if none are
// configured.
func (c *Client) UserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.UserAgents) == 0 {
		return ""
	}
	ua := c.cfg.UserAgents[c.uas%len(c.cfg.UserAgents)]
	c.uas++
	return ua
}

// Get fetches the URL with retries. Network errors, HTTP 429, and 5xx
// responses are retried; other non-2xx responses fail immediately. The
// returned error wraps harvest.FetchError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
			c.logger.Debug("retrying fetch",
				zap.String("url", url), zap.Int("attempt", attempt))
		}
		if err := c.limiter.wait(ctx, url); err != nil {
			return nil, err
		}

		body, retryable, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, &harvest.FetchError{URL: url, Err: lastErr}
}

func (c *Client) get(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if ua := c.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}
		return data, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, true, fmt.Errorf("http status %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, false, fmt.Errorf("http status %d", resp.StatusCode)
	}
}

// backoff sleeps for an exponentially growing, jittered delay.
func (c *Client) backoff(ctx context.Context, retry int) error {
	delay := c.cfg.BackoffInitial << (retry - 1)
	if delay > c.cfg.BackoffMax || delay <= 0 {
		delay = c.cfg.BackoffMax
	}
	c.mu.Lock()
	jitter := time.Duration(c.rng.Int63n(int64(delay)/2 + 1))
	c.mu.Unlock()
	delay += jitter

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
