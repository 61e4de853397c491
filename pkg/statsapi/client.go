// Package statsapi queries the third-party reading-stats endpoint for
// article view, like, and watch counts. The endpoint is paid and rate
// limited, so requests are spaced out and failures are classified into
// retryable and terminal errors.
package statsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/logger"
	"mpharvest/pkg/ratelimit"
	"mpharvest/pkg/retry"
)

// Endpoint is the stats API path on the provider host.
const Endpoint = "/fbmain/monitor/v3/read_zan"

// Stats holds the reading counts for one article.
type Stats struct {
	Reads   int64 `json:"read"`
	Likes   int64 `json:"zan"`
	Watches int64 `json:"looking"`
}

type request struct {
	URL        string `json:"url"`
	Key        string `json:"key"`
	VerifyCode string `json:"verifycode,omitempty"`
}

type response struct {
	Code        int     `json:"code"`
	Msg         string  `json:"msg"`
	Data        Stats   `json:"data"`
	CostMoney   float64 `json:"cost_money"`
	RemainMoney float64 `json:"remain_money"`
}

// Client calls the stats endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	key        string
	verifyCode string
	limiter    ratelimit.Limiter
	logger     logger.Logger

	// sleep between batch URLs, injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	// backoff between batch retries
	backoff retry.BackoffStrategy
}

// NewClient creates a stats API client. minInterval spaces out requests;
// zero or negative falls back to the package default.
func NewClient(baseURL, key, verifyCode string, timeout, minInterval time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		key:        key,
		verifyCode: verifyCode,
		limiter:    ratelimit.NewInterval(minInterval),
		logger:     log,
		sleep:      retry.Wait,
		backoff:    &retry.LinearBackoff{BaseDelay: 2 * time.Second, Increment: 2 * time.Second},
	}
}

// GetStats fetches reading counts for one article URL.
func (c *Client) GetStats(ctx context.Context, articleURL string) (*Stats, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(request{
		URL:        articleURL,
		Key:        c.key,
		VerifyCode: c.verifyCode,
	})
	if err != nil {
		return nil, errors.New(errors.ErrorTypeUnknown, 0, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New(errors.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, errors.New(errors.ErrorTypeServerError, resp.StatusCode, "server error")
		}
		return nil, errors.New(errors.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeNetwork, 0, "failed to read response: %v", err)
	}

	var result response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.New(errors.ErrorTypeParsing, 0, "failed to parse response: %v", err)
	}

	if result.Code != 0 {
		return nil, classifyCode(result.Code, result.Msg)
	}

	c.logger.DebugWithFields("stats fetched", map[string]interface{}{
		"reads":   result.Data.Reads,
		"likes":   result.Data.Likes,
		"watches": result.Data.Watches,
		"balance": result.RemainMoney,
	})
	return &result.Data, nil
}

// classifyCode maps a provider error code to a typed error. Retryable
// types feed the retry predicate, the rest stop the caller immediately.
func classifyCode(code int, msg string) error {
	switch code {
	case -1:
		return errors.New(errors.ErrorTypeRateLimit, code, "request rate above provider limit")
	case 101:
		return errors.New(errors.ErrorTypeRemote, code, "article deleted, in violation, or account migrated")
	case 105, 106:
		return errors.New(errors.ErrorTypeRemote, code, "article could not be parsed")
	case 107:
		return errors.New(errors.ErrorTypeServerError, code, "transient parse failure")
	case 10002:
		return errors.New(errors.ErrorTypeRemote, code, "invalid API key or verify code")
	case 20001:
		return errors.New(errors.ErrorTypeRemote, code, "insufficient account balance")
	case 20002, 20003:
		return errors.New(errors.ErrorTypeRemote, code, "malformed article URL")
	case 50000:
		return errors.New(errors.ErrorTypeServerError, code, "provider internal error")
	default:
		if msg == "Internal Server Error" {
			return errors.New(errors.ErrorTypeServerError, code, "provider internal error")
		}
		return errors.New(errors.ErrorTypeUnknown, code, "provider error: %s", msg)
	}
}

// GetStatsWithRetry fetches stats, retrying transient failures up to
// maxAttempts with linearly growing delays.
func (c *Client) GetStatsWithRetry(ctx context.Context, articleURL string, maxAttempts int) (*Stats, error) {
	return retry.DoWithResult(func() (*Stats, error) {
		return c.GetStats(ctx, articleURL)
	}, &retry.Config{
		MaxAttempts: maxAttempts,
		Backoff:     c.backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
}

// BatchResult is the outcome for one URL of a batch.
type BatchResult struct {
	Stats *Stats
	Err   error
}

// BatchGetStats fetches stats for every URL, retrying each one
// independently. A failed URL carries its error in the result map, it
// never aborts the rest of the batch.
func (c *Client) BatchGetStats(ctx context.Context, urls []string, maxAttempts int) map[string]BatchResult {
	results := make(map[string]BatchResult, len(urls))

	for i, url := range urls {
		if ctx.Err() != nil {
			results[url] = BatchResult{Err: ctx.Err()}
			continue
		}

		c.logger.InfoWithFields("fetching article stats", map[string]interface{}{
			"index": i + 1,
			"total": len(urls),
		})

		stats, err := c.GetStatsWithRetry(ctx, url, maxAttempts)
		results[url] = BatchResult{Stats: stats, Err: err}

		if i < len(urls)-1 {
			if err := c.sleep(ctx, 500*time.Millisecond); err != nil {
				continue
			}
		}
	}

	return results
}
