package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wandabot/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama implements domain.Provider for Ollama (local or cloud).
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	return NewOllamaWithClient(cfg, &http.Client{Timeout: defaultHTTPTimeout})
}

func NewOllamaWithClient(cfg OllamaConfig, client *http.Client) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Ollama{
		apiBase:      cfg.APIBase,
		defaultModel: cfg.DefaultModel,
		client:       client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Models returns available models (we list from API or use a default).
func (o *Ollama) Models() []string {
	// Common defaults; full list would require GET /api/tags
	return []string{"llama3.1:8b", "llama3.1:70b", "llama3.2:3b", "mistral", "phi3"}
}

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	msgs := make([]ollamaMsg, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollamaMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollamaMsg{Role: "user", Content: req.Text})

	body := ollamaRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	}
	options := make(map[string]any)
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		body.Options = options
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := sendWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &domain.ChatResponse{
		Content: or.Message.Content,
		Usage: domain.Usage{
			PromptTokens:     or.PromptEvalCount,
			CompletionTokens: or.EvalCount,
			TotalTokens:      or.PromptEvalCount + or.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
