package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"wandabot/internal/config"
	"wandabot/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	sharedClient := SharedHTTPClient(defaultHTTPTimeout)

	f.constructors["gemini"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewGeminiWithClient(GeminiConfig{
			APIBase:      pc.APIBase,
			APIKey:       pc.APIKey,
			DefaultModel: pc.DefaultModel,
			Logger:       logger,
		}, sharedClient)
	}

	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllamaWithClient(OllamaConfig{
			APIBase:      pc.APIBase,
			DefaultModel: pc.DefaultModel,
			Logger:       logger,
		}, sharedClient)
	}
	f.constructors["ollama-cloud"] = f.constructors["ollama"]
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
// Uses double-check locking to avoid TOCTOU races.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check under write lock (another goroutine may have created it).
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered", name)
	}

	p := ctor(pc, f.logger)
	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Oracle builds the provider the relay talks to: the default provider
// wrapped in a failover chain when one is configured.
func (f *Factory) Oracle() (domain.Provider, error) {
	if len(f.cfg.General.FailoverChain) == 0 {
		return f.DefaultProvider()
	}

	providers := make([]domain.Provider, 0, len(f.cfg.General.FailoverChain))
	for _, name := range f.cfg.General.FailoverChain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider in failover chain")
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

// HealthyProvider returns the first provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
