package domain

import "context"

// Provider is the generative-language oracle: persona/protocol
// instructions plus user text in, free-form reply text out. The reply
// may embed a structured action block; interpreting it is the action
// codec's job, not the provider's.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	System      string // persona + protocol instruction block
	Text        string // raw user message
	Model       string // optional override of the provider default
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content   string
	Usage     Usage
	LatencyMs int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
