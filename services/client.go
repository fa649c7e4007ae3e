// Package services holds the HTTP clients for the backend collaborators:
// the catalog/user aggregator, the payment processor, and geocoding.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/resilience"
	"github.com/convocart/convocart/telemetry"
)

// httpClient is the shared request plumbing: JSON in/out, retry on
// transient failures behind a per-service circuit breaker, status mapping
// to the core sentinels, and traced outbound requests.
type httpClient struct {
	baseURL string
	client  *http.Client
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  core.Logger
}

func newHTTPClient(baseURL string, timeout time.Duration, logger core.Logger) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	cbConfig := resilience.DefaultCircuitBreakerConfig(baseURL)
	cbConfig.Logger = logger
	// Only transient failures count toward opening the breaker. A 4xx is
	// the caller's fault, not the service's health.
	cbConfig.Classifier = func(err error) bool {
		return core.IsRetryable(err)
	}
	return &httpClient{
		baseURL: baseURL,
		client:  telemetry.NewTracedHTTPClient(timeout),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(cbConfig),
		logger:  logger,
	}
}

// apiError is a non-2xx response. 5xx and 429 wrap core.ErrRequestFailed so
// the retry layer takes another pass; other statuses are final.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (e *apiError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return core.ErrRequestFailed
	}
	return nil
}

func isStatus(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// doJSON performs one request with retries behind the breaker. header may
// be nil.
func (c *httpClient) doJSON(ctx context.Context, method, path string, query url.Values, header http.Header, in, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w: %v", method, path, core.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &apiError{Status: resp.StatusCode, Body: string(data)}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}
