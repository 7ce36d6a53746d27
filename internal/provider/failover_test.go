package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"wandabot/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{"test-model"} }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstHealthyProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", healthy: true, chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, chatErr: errors.New("fail 2")}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestFailoverProvider_SingleProvider(t *testing.T) {
	p1 := &mockProvider{name: "only", healthy: true, chatResp: &domain.ChatResponse{Content: "only-one"}}
	fp := NewFailoverProvider([]domain.Provider{p1}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "only-one" {
		t.Fatalf("expected 'only-one', got %q", resp.Content)
	}
}

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	p1 := &mockProvider{name: "gemini"}
	p2 := &mockProvider{name: "ollama"}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	name := fp.Name()
	if name != "failover(gemini→ollama)" {
		t.Fatalf("expected 'failover(gemini→ollama)', got %q", name)
	}
}

func TestFailoverProvider_Models_Deduplicated(t *testing.T) {
	p1 := &mockProvider{name: "p1"} // returns ["test-model"]
	p2 := &mockProvider{name: "p2"} // returns ["test-model"]
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	models := fp.Models()
	if len(models) != 1 {
		t.Fatalf("expected 1 unique model, got %d: %v", len(models), models)
	}
}
