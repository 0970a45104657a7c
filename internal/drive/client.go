package drive

import (
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

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "tracksync/0.1"
)

// Client is an HTTP client for the cloud file store API. The http.Client is
// expected to carry authentication (an oauth2 transport); this package never
// touches credentials itself. Requests are retried with exponential backoff
// on transient failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a drive API client. baseURL has no trailing slash.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// do executes an HTTP request against the API, retrying transient failures.
// The path is appended to the client's base URL unless it is already an
// absolute URL (download locators are absolute). On success the caller owns
// the response body. The contentType is applied when body is non-nil.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	url := path
	if len(path) > 0 && path[0] == '/' {
		url = c.baseURL + path
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, contentType, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable, but only for requests whose
			// body can be replayed (nil body).
			if body == nil && attempt < maxRetries {
				if sleepErr := c.waitRetry(ctx, method, path, attempt, 0, nil); sleepErr != nil {
					return nil, sleepErr
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("drive: %s %s: %w", method, path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if body == nil && isRetryable(resp.StatusCode) && attempt < maxRetries {
			if err := c.waitRetry(ctx, method, path, attempt, resp.StatusCode, resp); err != nil {
				return nil, err
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// waitRetry logs the retry and sleeps for the backoff duration, honoring
// a Retry-After header when the response carries one.
func (c *Client) waitRetry(ctx context.Context, method, path string, attempt, status int, resp *http.Response) error {
	backoff := c.calcBackoff(attempt)

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				backoff = time.Duration(seconds) * time.Second
			}
		}
	}

	c.logger.Warn("retrying request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", backoff),
	)

	if err := c.sleepFunc(ctx, backoff); err != nil {
		return fmt.Errorf("drive: request canceled: %w", err)
	}

	return nil
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

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
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
