package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/renalworks/nefro/pkg/config"
)

// OllamaProvider talks to a local Ollama server over its native chat API.
type OllamaProvider struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func NewOllamaProviderFromConfig(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	model := cfg.Model
	if model == "" {
		return nil, fmt.Errorf("model is required for Ollama provider")
	}

	return &OllamaProvider{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return p.chat(ctx, messages, "")
}

func (p *OllamaProvider) GenerateJSON(ctx context.Context, messages []Message) (string, int, error) {
	return p.chat(ctx, messages, "json")
}

func (p *OllamaProvider) chat(ctx context.Context, messages []Message, format string) (string, int, error) {
	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: convertMessages(messages),
		Stream:   false,
		Format:   format,
		Options:  map[string]any{"temperature": p.temperature},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("Ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("Ollama returned HTTP %d", resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	return parsed.Message.Content, parsed.PromptEvalCount + parsed.EvalCount, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: convertMessages(messages),
		Stream:   true,
		Options:  map[string]any{"temperature": p.temperature},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("Ollama returned HTTP %d", resp.StatusCode)
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				out <- StreamChunk{Done: true, Tokens: chunk.PromptEvalCount + chunk.EvalCount}
				return
			}
		}
		out <- StreamChunk{Done: true, Error: scanner.Err()}
	}()

	return out, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.model
}

func (p *OllamaProvider) Close() error {
	return nil
}
