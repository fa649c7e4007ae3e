package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/telemetry"
)

// baseClient carries the HTTP plumbing shared by completion and captioning
// requests: timeout, retry with exponential backoff, and request/response
// logging.
type baseClient struct {
	httpClient *http.Client
	logger     core.Logger

	maxRetries int
	retryDelay time.Duration

	defaultModel       string
	defaultTemperature float32
	defaultMaxTokens   int
}

func newBaseClient(timeout time.Duration, logger core.Logger) *baseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &baseClient{
		httpClient:         telemetry.NewTracedHTTPClient(timeout),
		logger:             logger,
		maxRetries:         3,
		retryDelay:         time.Second,
		defaultTemperature: 0.7,
		defaultMaxTokens:   1000,
	}
}

// executeWithRetry performs an HTTP request with exponential backoff.
// 4xx responses other than 429 are returned to the caller without retrying.
func (b *baseClient) executeWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", bodyErr)
			}
			reqClone.Body = body
		}

		resp, err := b.httpClient.Do(reqClone)
		if err == nil && resp.StatusCode < 400 {
			if attempt > 0 {
				b.logger.Info("AI request succeeded after retry", map[string]interface{}{
					"operation":          "ai_request_recovery",
					"successful_attempt": attempt + 1,
				})
			}
			return resp, nil
		}

		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			_ = resp.Body.Close()
		}

		if attempt < b.maxRetries {
			delay := b.retryDelay * time.Duration(1<<uint(attempt))
			b.logger.Warn("AI request failed, retrying", map[string]interface{}{
				"operation":      "ai_request_retry_wait",
				"attempt":        attempt + 1,
				"max_retries":    b.maxRetries,
				"retry_delay_ms": delay.Milliseconds(),
				"error":          lastErr.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", b.maxRetries, lastErr)
}

// applyDefaults applies client defaults to unset option values.
func (b *baseClient) applyDefaults(options *core.AIOptions) *core.AIOptions {
	if options == nil {
		options = &core.AIOptions{}
	}
	if options.Model == "" && b.defaultModel != "" {
		options.Model = b.defaultModel
	}
	if options.Temperature == 0 {
		options.Temperature = b.defaultTemperature
	}
	if options.MaxTokens == 0 {
		options.MaxTokens = b.defaultMaxTokens
	}
	return options
}

// handleError maps API status codes to consistent errors.
func (b *baseClient) handleError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("completion API error: invalid or missing API key")
	case http.StatusTooManyRequests:
		return fmt.Errorf("completion API error: rate limit exceeded: %w", core.ErrRequestFailed)
	case http.StatusBadRequest:
		return fmt.Errorf("completion API error: invalid request - %s", string(body))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("completion API error: service temporarily unavailable (status %d): %w", statusCode, core.ErrRequestFailed)
	default:
		return fmt.Errorf("completion API error (status %d): %s", statusCode, string(body))
	}
}

func (b *baseClient) logRequest(model, prompt string) {
	b.logger.Info("AI request initiated", map[string]interface{}{
		"operation":     "ai_request",
		"model":         model,
		"prompt_length": len(prompt),
	})
}

func (b *baseClient) logResponse(model string, usage core.TokenUsage, duration time.Duration) {
	b.logger.Info("AI response received", map[string]interface{}{
		"operation":         "ai_response",
		"model":             model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"duration_ms":       duration.Milliseconds(),
		"status":            "success",
	})
}
