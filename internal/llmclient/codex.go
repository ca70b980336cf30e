// File: internal/llmclient/codex.go
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// Default Responses API endpoint for ChatGPT OAuth sessions. The endpoint
// only accepts streaming requests.
const codexDefaultEndpoint = "https://chatgpt.com/backend-api/codex/responses"

// Tokens in the auth file rotate roughly every eight minutes; reload a bit
// before that.
const codexTokenTTL = 7 * time.Minute

// CodexClient authenticates with the OAuth token the `codex login` flow
// writes to disk, instead of a static API key.
type CodexClient struct {
	model      schemas.ModelConfig
	authPath   string
	httpClient *http.Client
	logger     *zap.Logger

	tokenMu     sync.RWMutex
	token       string
	tokenLoaded time.Time
}

var _ schemas.LLMClient = (*CodexClient)(nil)

// -- Auth file structure (written by `codex login`) --

type codexAuthFile struct {
	OpenAIAPIKey string       `json:"OPENAI_API_KEY"`
	Tokens       *codexTokens `json:"tokens"`
}

type codexTokens struct {
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id"`
}

// -- Responses API structures --

type codexInputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type codexInputMessage struct {
	Type    string              `json:"type"`
	Role    string              `json:"role"`
	Content []codexInputContent `json:"content"`
}

type codexRequestPayload struct {
	Model             string              `json:"model"`
	Instructions      string              `json:"instructions"`
	Input             []codexInputMessage `json:"input"`
	Tools             []any               `json:"tools"`
	ToolChoice        string              `json:"tool_choice"`
	ParallelToolCalls bool                `json:"parallel_tool_calls"`
	Store             bool                `json:"store"`
	Stream            bool                `json:"stream"`
}

type codexStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response struct {
		OutputText string `json:"output_text"`
	} `json:"response"`
}

// NewCodexClient initializes the client and warms the token cache so a
// missing login surfaces at startup rather than mid-session.
func NewCodexClient(model schemas.ModelConfig, opts Options, logger *zap.Logger) (*CodexClient, error) {
	path := opts.AuthFile
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".codex", "auth.json")
	} else {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand auth file path: %w", err)
		}
		path = expanded
	}

	c := &CodexClient{
		model:      model,
		authPath:   path,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.Named("llmclient.codex"),
	}
	if _, err := c.loadTokenFromDisk(); err != nil {
		c.logger.Warn("No OAuth token found; run `codex login`",
			zap.String("path", path), zap.Error(err))
	}
	return c, nil
}

// Generate runs one streaming completion against the Responses API and
// collects the full text.
func (c *CodexClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	token, err := c.currentToken()
	if err != nil {
		return "", err
	}

	payload := c.buildRequestPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpoint := c.model.Endpoint
	if endpoint == "" {
		endpoint = codexDefaultEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.invalidateToken()
		return "", fmt.Errorf("codex OAuth: authentication failed (status %d); run `codex login` to refresh", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("codex API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	text, err := collectStreamText(resp.Body)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Codex generation complete", zap.Int("chars", len(text)))
	return text, nil
}

func (c *CodexClient) buildRequestPayload(req schemas.GenerationRequest) codexRequestPayload {
	userContent := []codexInputContent{{Type: "input_text", Text: req.UserPrompt}}
	if req.ImagePNGBase64 != "" && c.model.VisionEnabled {
		userContent = append(userContent, codexInputContent{
			Type:     "input_image",
			ImageURL: "data:image/png;base64," + req.ImagePNGBase64,
		})
	}

	return codexRequestPayload{
		Model:        c.model.Model,
		Instructions: req.SystemPrompt,
		Input: []codexInputMessage{
			{
				Type: "message",
				Role: "developer",
				Content: []codexInputContent{
					{Type: "input_text", Text: req.SystemPrompt},
				},
			},
			{Type: "message", Role: "user", Content: userContent},
		},
		Tools:      []any{},
		ToolChoice: "auto",
		Store:      false,
		// The backend rejects stream:false.
		Stream: true,
	}
}

// collectStreamText folds an SSE stream of output_text deltas into the full
// response. A response.completed event carrying output_text wins over the
// accumulated deltas.
func collectStreamText(r io.Reader) (string, error) {
	var collected strings.Builder
	final := ""
	completed := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var event codexStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		switch event.Type {
		case "response.output_text.delta":
			collected.WriteString(event.Delta)
		case "response.completed":
			completed = true
			if event.Response.OutputText != "" {
				final = event.Response.OutputText
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read event stream: %w", err)
	}

	if final != "" {
		return final, nil
	}
	if collected.Len() == 0 && !completed {
		return "", fmt.Errorf("codex API: stream ended with no text")
	}
	return collected.String(), nil
}

// -- Token cache --

// currentToken returns the cached token, reloading from disk once it ages
// past the TTL.
func (c *CodexClient) currentToken() (string, error) {
	c.tokenMu.RLock()
	if c.token != "" && time.Since(c.tokenLoaded) < codexTokenTTL {
		token := c.token
		c.tokenMu.RUnlock()
		return token, nil
	}
	c.tokenMu.RUnlock()

	return c.loadTokenFromDisk()
}

func (c *CodexClient) loadTokenFromDisk() (string, error) {
	content, err := os.ReadFile(c.authPath)
	if err != nil {
		return "", fmt.Errorf("could not read auth file %s: %w", c.authPath, err)
	}

	var auth codexAuthFile
	if err := json.Unmarshal(content, &auth); err != nil {
		return "", fmt.Errorf("could not parse auth file %s: %w", c.authPath, err)
	}

	token := ""
	if auth.Tokens != nil && auth.Tokens.AccessToken != "" {
		token = auth.Tokens.AccessToken
	} else if auth.OpenAIAPIKey != "" {
		token = auth.OpenAIAPIKey
	}
	if token == "" {
		return "", fmt.Errorf("auth file %s contains no usable token", c.authPath)
	}

	c.tokenMu.Lock()
	c.token = token
	c.tokenLoaded = time.Now()
	c.tokenMu.Unlock()

	c.logger.Debug("OAuth token refreshed from disk")
	return token, nil
}

// invalidateToken drops the cached token after a 401/403 so the next call
// rereads the file, which `codex login` may have refreshed by then.
func (c *CodexClient) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
	c.logger.Warn("OAuth token rejected; cache cleared")
}
