package gdata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// DefaultCalendarListURL lists the calendars owned by the signed-in account.
const DefaultCalendarListURL = "https://www.google.com/calendar/feeds/default/owncalendars/full"

const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	defaultUserAgent = "calsync/0.1"
	gdataVersion     = "2"
	atomContentType  = "application/atom+xml"

	// maxResponseBytes caps a single feed page.
	maxResponseBytes = 32 << 20
)

// TokenSource provides OAuth2 bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to one account's calendar feeds. It implements the remote
// and pusher contracts of the sync package and is owned by the caller: one
// Client per feed, passed into every pass.
type Client struct {
	calendarListURL string
	userAgent       string
	httpClient      *http.Client
	token           TokenSource
	logger          *slog.Logger

	// sleepFunc waits between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. An empty calendarListURL selects
// DefaultCalendarListURL.
func NewClient(calendarListURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if calendarListURL == "" {
		calendarListURL = DefaultCalendarListURL
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		calendarListURL: calendarListURL,
		userAgent:       userAgent,
		httpClient:      httpClient,
		token:           token,
		logger:          logger,
		sleepFunc:       timeSleep,
	}
}

// Do executes a request with retry on transient failures and returns the
// response body of a 2xx reply. A non-empty etag is sent as If-Match.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, etag string) ([]byte, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, url, body, etag)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gdata: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("gdata: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("gdata: %s %s failed after %d retries: %w", method, url, maxRetries, err)
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return nil, fmt.Errorf("gdata: reading %s: %w", url, readErr)
			}

			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("bytes", len(data)),
			)

			return data, nil
		}

		if readErr != nil {
			data = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("gdata: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(data),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, etag string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("GData-Version", gdataVersion)

	if body != nil {
		req.Header.Set("Content-Type", atomContentType)
	}

	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	return c.httpClient.Do(req)
}

// retryBackoff honors Retry-After on 429 and 503 replies.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
