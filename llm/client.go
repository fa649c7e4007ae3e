// Package llm implements core.AIClient against any OpenAI-compatible chat
// completions endpoint, with SSE streaming and an image captioning helper.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/convocart/convocart/core"
)

// Client implements core.AIClient for OpenAI-compatible providers.
type Client struct {
	*baseClient
	apiKey      string
	baseURL     string
	visionModel string
	telemetry   core.Telemetry
}

// NewClient creates a completion client from configuration.
func NewClient(cfg core.AIClientConfig, logger core.Logger, telemetry core.Telemetry) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	base := newBaseClient(timeout, logger)
	base.defaultModel = cfg.Model
	if cfg.MaxRetries > 0 {
		base.maxRetries = cfg.MaxRetries
	}

	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &Client{
		baseClient:  base,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		visionModel: visionModel,
		telemetry:   telemetry,
	}
}

func (c *Client) buildMessages(prompt string, options *core.AIOptions) []chatMessage {
	messages := []chatMessage{}
	if options.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: options.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return messages
}

func (c *Client) post(ctx context.Context, body interface{}, stream bool) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		// No retry for streaming; retry only covers connection establishment
		// for unary requests.
		return c.httpClient.Do(req)
	}
	return c.executeWithRetry(ctx, req)
}

// GenerateResponse performs a unary completion request.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "ai.generate_response")
	defer span.End()
	span.SetAttribute("ai.prompt_length", len(prompt))

	if c.apiKey == "" {
		err := fmt.Errorf("completion API key not configured: %w", core.ErrMissingConfiguration)
		span.RecordError(err)
		return nil, err
	}

	options = c.applyDefaults(options)
	span.SetAttribute("ai.model", options.Model)
	c.logRequest(options.Model, prompt)
	startTime := time.Now()

	resp, err := c.post(ctx, chatRequest{
		Model:       options.Model,
		Messages:    c.buildMessages(prompt, options),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}, false)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := c.handleError(resp.StatusCode, body)
		span.RecordError(apiErr)
		span.SetAttribute("http.status_code", resp.StatusCode)
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		emptyErr := fmt.Errorf("no response from completion service")
		span.RecordError(emptyErr)
		return nil, emptyErr
	}

	result := &core.AIResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	span.SetAttribute("ai.total_tokens", result.Usage.TotalTokens)
	c.logResponse(result.Model, result.Usage, time.Since(startTime))
	return result, nil
}

// StreamResponse performs a streaming completion request over SSE. The
// callback receives each delta; a partially delivered stream returns the
// accumulated content with core.ErrStreamPartiallyCompleted.
func (c *Client) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, callback core.StreamCallback) (*core.AIResponse, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "ai.stream_response")
	defer span.End()
	span.SetAttribute("ai.streaming", true)
	span.SetAttribute("ai.prompt_length", len(prompt))

	if c.apiKey == "" {
		err := fmt.Errorf("completion API key not configured: %w", core.ErrMissingConfiguration)
		span.RecordError(err)
		return nil, err
	}

	options = c.applyDefaults(options)
	span.SetAttribute("ai.model", options.Model)
	c.logRequest(options.Model, prompt)
	startTime := time.Now()

	resp, err := c.post(ctx, chatRequest{
		Model:       options.Model,
		Messages:    c.buildMessages(prompt, options),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
		Stream:      true,
	}, true)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := c.handleError(resp.StatusCode, body)
		span.RecordError(apiErr)
		span.SetAttribute("http.status_code", resp.StatusCode)
		return nil, apiErr
	}

	reader := bufio.NewReader(resp.Body)
	var fullContent strings.Builder
	var model string
	var usage core.TokenUsage
	chunkIndex := 0
	var finishReason string

	partial := func() *core.AIResponse {
		return &core.AIResponse{
			Content: fullContent.String(),
			Model:   model,
			Usage:   usage,
		}
	}

	for {
		select {
		case <-ctx.Done():
			if fullContent.Len() > 0 {
				return partial(), ErrStreamPartiallyCompleted
			}
			return nil, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			if fullContent.Len() > 0 {
				span.SetAttribute("ai.stream_partial", true)
				return partial(), ErrStreamPartiallyCompleted
			}
			span.RecordError(err)
			return nil, fmt.Errorf("error reading stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if line == "data: [DONE]" {
			break
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			// Malformed chunks are skipped; the stream continues.
			c.logger.Debug("Stream chunk parse failed", map[string]interface{}{
				"operation": "ai_stream_parse",
				"error":     err.Error(),
			})
			continue
		}

		if model == "" && chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = core.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				fullContent.WriteString(choice.Delta.Content)
				if err := callback(core.StreamChunk{
					Content: choice.Delta.Content,
					Delta:   true,
					Index:   chunkIndex,
					Model:   model,
				}); err != nil {
					span.SetAttribute("ai.stream_stopped_by_callback", true)
					return partial(), nil
				}
				chunkIndex++
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}

	if finishReason != "" {
		_ = callback(core.StreamChunk{
			Delta:        false,
			Index:        chunkIndex,
			FinishReason: finishReason,
			Model:        model,
			Usage:        &usage,
		})
	}

	result := partial()
	span.SetAttribute("ai.response_length", len(result.Content))
	span.SetAttribute("ai.chunks_sent", chunkIndex)
	c.logResponse(result.Model, result.Usage, time.Since(startTime))
	return result, nil
}

// SupportsStreaming reports native streaming support.
func (c *Client) SupportsStreaming() bool {
	return true
}

// CaptionImage sends image bytes to the vision model and returns a short
// caption describing the pictured food, used to fold image turns into text.
func (c *Client) CaptionImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "ai.caption_image")
	defer span.End()
	span.SetAttribute("ai.image_bytes", len(imageData))

	if c.apiKey == "" {
		return "", fmt.Errorf("completion API key not configured: %w", core.ErrMissingConfiguration)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	req := chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: "Describe the food or dish in this image in one short sentence. Name the dish if you recognize it."},
				{Type: "image_url", ImageURL: &imageURLValue{URL: dataURL}},
			},
		}},
		MaxTokens: 120,
	}

	resp, err := c.post(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to send caption request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read caption response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := c.handleError(resp.StatusCode, body)
		span.RecordError(apiErr)
		return "", apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse caption response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no caption from vision model")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
