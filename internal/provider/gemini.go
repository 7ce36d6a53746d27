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
	geminiDefaultBase  = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-flash"
)

// Gemini implements domain.Provider against the Google Generative
// Language REST API.
type Gemini struct {
	apiBase      string
	apiKey       string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

type GeminiConfig struct {
	APIBase      string
	APIKey       string
	DefaultModel string
	Logger       *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	return NewGeminiWithClient(cfg, &http.Client{Timeout: defaultHTTPTimeout})
}

func NewGeminiWithClient(cfg GeminiConfig, client *http.Client) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = geminiDefaultModel
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Gemini{
		apiBase:      cfg.APIBase,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       client,
		logger:       cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Models() []string {
	return []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"}
}

func (g *Gemini) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}
	return nil
}

// geminiRequest matches the generateContent request body.
type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Text}}},
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		gc := &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			t := req.Temperature
			gc.Temperature = &t
		}
		body.GenerationConfig = gc
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.apiBase, model)
	start := time.Now()

	resp, err := sendWithRetry(ctx, g.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)
		return httpReq, nil
	}, g.logger)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if gr.Error != nil {
		return nil, fmt.Errorf("gemini error %d (%s): %s", gr.Error.Code, gr.Error.Status, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var content string
	for _, part := range gr.Candidates[0].Content.Parts {
		content += part.Text
	}

	return &domain.ChatResponse{
		Content: content,
		Usage: domain.Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
