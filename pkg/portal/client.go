package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tsegrab/pkg/config"
	"tsegrab/pkg/docquery"
	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/ratelimit"
	"tsegrab/pkg/retry"
)

// Client is the HTTP client shared by the indexer, the resolver and the
// transfer manager. Page fetches go through the politeness limiter; byte
// transfers do not, since the portal rate-limits page hits, not downloads.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    ratelimit.Limiter
	pageRetry  *retry.Config
	logger     logger.Logger
}

// NewClient creates a new portal client.
func NewClient(cfg *config.PortalConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		// No whole-request timeout: it would abort large transfers
		// mid-body. Stall detection is the transfer manager's job.
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		headers: map[string]string{
			"User-Agent": cfg.UserAgent,
			"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		},
		limiter: ratelimit.NewTokenBucket(cfg.RequestsPerMinute, time.Minute),
		pageRetry: &retry.Config{
			MaxAttempts: 3,
			Backoff:     retry.DefaultExponentialBackoff(),
			RetryIf:     retry.DefaultRetryIf,
			Logger:      log,
		},
		logger: log,
	}
}

// SetHeader sets a custom header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Get performs a GET request. The response body is the caller's to close.
// A nil error guarantees a 2xx status.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.GetRange(ctx, url, 0)
}

// GetRange performs a GET request with a Range header starting at offset.
// An offset of zero sends a plain GET. Responses with status 416 (range
// not satisfiable) are returned to the caller alongside a terminal error
// so resumption logic can restart from scratch.
func (c *Client) GetRange(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Newf(errs.KindTerminal, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    url,
		"offset": offset,
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Newf(errs.KindCanceled, "request cancelled: %v", ctx.Err())
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Newf(errs.KindTransient, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := classifyStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// FetchDocument fetches a page through the politeness limiter and parses
// it. Transient failures are retried at the page level before the error
// surfaces to the caller.
func (c *Client) FetchDocument(ctx context.Context, url string) (*docquery.Document, error) {
	var doc *docquery.Document

	cfg := *c.pageRetry
	cfg.Context = ctx

	err := retry.Do(func() error {
		c.limiter.Wait()

		resp, err := c.Get(ctx, url)
		if err != nil {
			// Page-level failures are fetch errors so the caller can tell
			// them apart from transfer failures; transient ones still retry.
			if kind := errs.KindOf(err); kind == errs.KindTransient {
				return err
			} else if kind == errs.KindCanceled {
				return err
			}
			return errs.Newf(errs.KindFetch, "page unreachable: %v", err)
		}
		defer resp.Body.Close()

		parsed, err := docquery.Parse(resp.Body)
		if err != nil {
			return errs.Newf(errs.KindParse, "failed to parse markup: %v", err)
		}
		doc = parsed
		return nil
	}, &cfg)

	if err != nil {
		if kind := errs.KindOf(err); kind == errs.KindTransient {
			return nil, errs.Newf(errs.KindFetch, "page unreachable after retries: %v", err)
		}
		return nil, err
	}

	return doc, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusRequestedRangeNotSatisfiable:
		return errs.WithCode(errs.KindTerminal, statusCode, "range not satisfiable")
	case errs.IsRetryableStatusCode(statusCode):
		return errs.WithCode(errs.KindTransient, statusCode, "server error")
	case statusCode >= 400 && statusCode < 500:
		return errs.WithCode(errs.KindTerminal, statusCode, "client error")
	default:
		return errs.WithCode(errs.KindTerminal, statusCode, "unexpected status")
	}
}
