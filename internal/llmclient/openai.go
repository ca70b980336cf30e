// File: internal/llmclient/openai.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// OpenAIClient speaks the chat/completions wire format shared by OpenAI,
// Groq, OpenRouter, llama.cpp and most self-hosted gateways.
type OpenAIClient struct {
	model      schemas.ModelConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// -- Chat Completions Request/Response Structures (Internal to this file) --

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string for text-only messages, or a part list
	// when an image rides along.
	Content any `json:"content"`
}

type chatTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatImagePart struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatRequestPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponsePayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(model schemas.ModelConfig, opts Options, logger *zap.Logger) (*OpenAIClient, error) {
	if model.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for backend %q", model.Backend)
	}
	return &OpenAIClient{
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.Named("llmclient." + model.Backend),
	}, nil
}

// Generate sends the prompts to the chat/completions endpoint with retries.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := c.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	url := strings.TrimRight(c.model.Endpoint, "/") + "/chat/completions"

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.model.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.model.APIKey)
		}

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload chatResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(responsePayload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%s API returned no choices", c.model.Backend))
		}

		c.logger.Info("LLM generation complete",
			zap.String("model", c.model.Model),
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.Usage.PromptTokens),
			zap.Int("completion_tokens", responsePayload.Usage.CompletionTokens),
		)

		responseContent = responsePayload.Choices[0].Message.Content
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

func (c *OpenAIClient) buildRequestPayload(req schemas.GenerationRequest) chatRequestPayload {
	var userContent any = req.UserPrompt
	if req.ImagePNGBase64 != "" && c.model.VisionEnabled {
		userContent = []any{
			chatTextPart{Type: "text", Text: req.UserPrompt},
			chatImagePart{
				Type:     "image_url",
				ImageURL: chatImageURL{URL: "data:image/png;base64," + req.ImagePNGBase64},
			},
		}
	}

	return chatRequestPayload{
		Model: c.model.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("LLM API returned error status",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("%s API error: status %d, body: %s", c.model.Backend, statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
