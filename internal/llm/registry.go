package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages LLM provider clients and resolves names to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps an alternative name to a provider.
func (r *Registry) Alias(alias, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = provider
}

// SetFallback sets the provider used when no name or alias matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given name.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[name]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers the primary provider and every named
// provider in cfg.Providers. The primary becomes the fallback.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	primary, err := NewProviderClient(ProviderConfig{
		Name:       cfg.Provider,
		Kind:       cfg.Provider,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Deployment: cfg.Deployment,
		APIVersion: cfg.APIVersion,
		Headers:    cfg.Headers,
		Timeout:    timeout,
		MaxRetries: cfg.MaxRetries,
	}, log)
	if err != nil {
		return nil, err
	}
	reg.Register(cfg.Provider, primary)
	if cfg.Model != "" {
		reg.Alias(cfg.Model, cfg.Provider)
	}
	reg.SetFallback(cfg.Provider)

	for name, p := range cfg.Providers {
		if name == cfg.Provider {
			continue
		}
		client, err := NewProviderClient(ProviderConfig{
			Name:       name,
			Kind:       p.Kind,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			Model:      p.Model,
			Deployment: p.Deployment,
			APIVersion: p.APIVersion,
			Headers:    p.Headers,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		reg.Register(name, client)
		if p.Model != "" {
			reg.Alias(p.Model, name)
		}
	}

	return reg, nil
}
