// File: internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// GeminiClient wraps the official Gemini SDK.
type GeminiClient struct {
	model  schemas.ModelConfig
	client *genai.Client
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the SDK client.
func NewGeminiClient(model schemas.ModelConfig, _ Options, logger *zap.Logger) (*GeminiClient, error) {
	if model.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  model.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		model:  model,
		client: client,
		logger: logger.Named("llmclient.gemini"),
	}, nil
}

// Generate sends the prompts through the SDK and returns the text of the
// first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	if req.ImagePNGBase64 != "" && c.model.VisionEnabled {
		img, err := base64.StdEncoding.DecodeString(req.ImagePNGBase64)
		if err != nil {
			return "", fmt.Errorf("invalid screenshot encoding: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	temp := float32(req.Temperature)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model.Model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini API returned no text candidates")
	}

	c.logger.Debug("Gemini generation complete",
		zap.String("model", c.model.Model), zap.Int("chars", len(text)))
	return text, nil
}
