// internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// GeminiClient calls the generateContent REST endpoint directly. The scorer
// uses it for the model-assisted completeness pass when no SDK client is
// configured.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	// backoffFactory yields the retry schedule for one Generate call.
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// Wire shapes of generateContent. Only the fields the scorer reads or sets.
type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float32 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

// NewGeminiClient validates the model settings and builds a client. An empty
// Endpoint resolves to the public generateContent URL for cfg.Model.
func NewGeminiClient(cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	switch {
	case cfg.APIKey == "":
		return nil, errors.New("scoring model API key is required")
	case cfg.Model == "":
		return nil, errors.New("scoring model name is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultGeminiEndpoint, cfg.Model)
	}

	return &GeminiClient{
		apiKey:         cfg.APIKey,
		endpoint:       endpoint,
		httpClient:     &http.Client{Timeout: cfg.APITimeout},
		logger:         logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		config:         cfg,
		backoffFactory: defaultBackoff,
	}, nil
}

// defaultBackoff is short: a scoring request normally carries its own deadline.
func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Generate returns the text of the first candidate. Throttling and 5xx
// statuses are retried until the backoff schedule or ctx runs out.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return "", fmt.Errorf("failed to encode scoring request: %w", err)
	}

	var text string
	err = backoff.Retry(func() error {
		var attemptErr error
		text, attemptErr = c.attempt(ctx, body)
		return attemptErr
	}, backoff.WithContext(c.backoffFactory(), ctx))
	if err != nil {
		return "", err
	}
	return text, nil
}

// attempt performs one POST. Errors wrapped in backoff.Permanent stop the retry loop.
func (c *GeminiClient) attempt(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build scoring request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		c.logger.Warn("Scoring model unreachable, will retry.", zap.Error(err))
		return "", fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read scoring response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.handleAPIError(resp.StatusCode, respBody)
	}

	var decoded geminiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode scoring response: %w", err))
	}
	if len(decoded.Candidates) == 0 {
		return "", backoff.Permanent(errors.New("scoring model returned no candidates"))
	}

	first := decoded.Candidates[0]
	if len(first.Content.Parts) == 0 {
		switch first.FinishReason {
		case "SAFETY", "BLOCKLIST":
			return "", backoff.Permanent(fmt.Errorf("scoring model blocked the request (finish reason %s)", first.FinishReason))
		default:
			// Occasionally seen with MAX_TOKENS or OTHER; another attempt usually succeeds.
			return "", fmt.Errorf("scoring model returned no content (finish reason %s)", first.FinishReason)
		}
	}

	c.logger.Debug("Scoring model call finished.",
		zap.Duration("duration", time.Since(started)),
		zap.Int("prompt_tokens", decoded.UsageMetadata.PromptTokenCount),
		zap.Int("completion_tokens", decoded.UsageMetadata.CandidatesTokenCount),
		zap.Int("total_tokens", decoded.UsageMetadata.TotalTokenCount),
	)
	return first.Content.Parts[0].Text, nil
}

// Close drops pooled connections.
func (c *GeminiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildRequestPayload maps a GenerationRequest onto the wire request. A zero
// request temperature defers to the configured one.
func (c *GeminiClient) buildRequestPayload(req schemas.GenerationRequest) geminiRequest {
	gen := geminiGenerationConfig{
		Temperature:     req.Options.Temperature,
		TopP:            c.config.TopP,
		TopK:            c.config.TopK,
		MaxOutputTokens: c.config.MaxTokens,
	}
	if gen.Temperature == 0 {
		gen.Temperature = float64(c.config.Temperature)
	}
	if req.Options.ForceJSONFormat {
		gen.ResponseMimeType = "application/json"
	}

	out := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}}},
		SafetySettings:   c.safetySettings(),
		GenerationConfig: gen,
	}
	if req.SystemPrompt != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	return out
}

// handleAPIError logs a non-200 reply and classifies it for the retry loop.
func (c *GeminiClient) handleAPIError(status int, body []byte) error {
	c.logger.Warn("Scoring model rejected the request.", zap.Int("status", status), zap.ByteString("body", body))
	err := fmt.Errorf("scoring model error: status %d, body: %s", status, body)

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return err
	}
	return backoff.Permanent(err)
}

func (c *GeminiClient) safetySettings() []geminiSafetySetting {
	out := make([]geminiSafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		out = append(out, geminiSafetySetting{Category: category, Threshold: threshold})
	}
	return out
}
