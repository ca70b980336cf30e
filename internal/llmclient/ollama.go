// File: internal/llmclient/ollama.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// OllamaClient talks to a local Ollama daemon via its native generate API.
// No retries here; the daemon is on localhost and failures are immediate.
type OllamaClient struct {
	model      schemas.ModelConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.LLMClient = (*OllamaClient)(nil)

type ollamaRequestPayload struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options"`
}

type ollamaResponsePayload struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient initializes the client.
func NewOllamaClient(model schemas.ModelConfig, opts Options, logger *zap.Logger) (*OllamaClient, error) {
	if model.Endpoint == "" {
		model.Endpoint = "http://localhost:11434"
	}
	return &OllamaClient{
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.Named("llmclient.ollama"),
	}, nil
}

// Generate runs a single non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := ollamaRequestPayload{
		Model:  c.model.Model,
		System: req.SystemPrompt,
		Prompt: req.UserPrompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.ImagePNGBase64 != "" && c.model.VisionEnabled {
		payload.Images = []string{req.ImagePNGBase64}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	url := strings.TrimRight(c.model.Endpoint, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var responsePayload ollamaResponsePayload
	if err := json.Unmarshal(respBody, &responsePayload); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}

	c.logger.Debug("Ollama generation complete",
		zap.String("model", c.model.Model),
		zap.Int("chars", len(responsePayload.Response)))
	return responsePayload.Response, nil
}
