package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/papercomputeco/warden/pkg/utils"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultMaxTokens = 2048
)

// CallFunc sends a single prompt to a model and returns the raw completion.
// Every reasoning step talks to the model through a CallFunc, which keeps
// the steps independent of the provider.
type CallFunc func(ctx context.Context, prompt string) (string, error)

// CallerConfig holds configuration for creating a CallFunc.
type CallerConfig struct {
	Provider string // "openai", "anthropic", or "ollama"
	Model    string // e.g. "gpt-4o-mini", "claude-haiku-4-5-20251001"
	APIKey   string // already resolved at startup
	BaseURL  string // override base URL

	// HTTPClient is used by the REST callers. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewCaller creates a CallFunc for the configured provider. API keys are
// resolved and validated once at startup; NewCaller never looks them up.
func NewCaller(cfg CallerConfig) (CallFunc, error) {
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai caller requires an API key")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		return newOpenAICaller(client, cfg.APIKey, model, orDefault(cfg.BaseURL, "https://api.openai.com")), nil

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic caller requires an API key")
		}
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return newAnthropicCaller(cfg.APIKey, model, orDefault(cfg.BaseURL, "https://api.anthropic.com")), nil

	case ProviderOllama, "":
		if model == "" {
			model = "llama3.2"
		}
		return newOllamaCaller(client, model, orDefault(cfg.BaseURL, "http://localhost:11434")), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

// --- OpenAI caller ---

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat *openAIRespFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newOpenAICaller(client *http.Client, apiKey, model, baseURL string) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		reqBody := openAIRequest{
			Model:          model,
			Messages:       []chatMessage{{Role: "user", Content: prompt}},
			Temperature:    0.1,
			ResponseFormat: &openAIRespFormat{Type: "json_object"},
		}

		body, err := postJSON(ctx, client, baseURL+"/v1/chat/completions", reqBody, map[string]string{
			"Authorization": "Bearer " + apiKey,
		})
		if err != nil {
			return "", fmt.Errorf("openai %w", err)
		}

		var result openAIResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}

		if result.Error != nil {
			return "", fmt.Errorf("openai error: %s", result.Error.Message)
		}

		if len(result.Choices) == 0 {
			return "", errors.New("openai returned no choices")
		}

		return result.Choices[0].Message.Content, nil
	}
}

// --- Anthropic caller ---

func newAnthropicCaller(apiKey, model, baseURL string) CallFunc {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHeader("User-Agent", utils.UserAgent()),
	)

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: defaultMaxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt + "\n\nReturn ONLY valid JSON, no markdown or extra text.")),
			},
		})
		if err != nil {
			return "", fmt.Errorf("anthropic request: %w", err)
		}

		var out strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				out.WriteString(block.Text)
			}
		}

		if out.Len() == 0 {
			return "", errors.New("anthropic returned no content")
		}

		return out.String(), nil
	}
}

// --- Ollama caller ---

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func newOllamaCaller(client *http.Client, model, baseURL string) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		reqBody := ollamaChatRequest{
			Model:    model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
			Stream:   false,
			Format:   "json",
			Options:  map[string]any{"temperature": 0.1},
		}

		body, err := postJSON(ctx, client, baseURL+"/api/chat", reqBody, nil)
		if err != nil {
			return "", fmt.Errorf("ollama %w", err)
		}

		var result ollamaChatResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}

		return result.Message.Content, nil
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// WithTimeout bounds every call made through fn.
func WithTimeout(fn CallFunc, d time.Duration) CallFunc {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx, prompt)
	}
}
