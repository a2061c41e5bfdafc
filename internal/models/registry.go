package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/calliope-studio/calliope/internal/config"
)

// entry holds a lazily-initialized model instance for one provider+model pair.
type entry struct {
	cfg   config.ProviderConfig
	model model.ToolCallingChatModel
	once  sync.Once
	err   error
}

// Registry manages named generation providers and hands out lazily-built
// chat model instances per (provider, model name) pair. A provider serves
// many model names; each name gets its own instance so per-model settings
// stay isolated.
type Registry struct {
	mu        sync.Mutex
	configs   map[string]config.ProviderConfig
	instances map[string]*entry // "provider/model"
}

// NewRegistry creates a model registry from config.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	configs := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for name, provCfg := range cfg.Providers {
		configs[name] = provCfg
	}
	return &Registry{
		configs:   configs,
		instances: make(map[string]*entry),
	}
}

// Providers returns the configured provider names.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Config returns the configuration of a named provider.
func (r *Registry) Config(name string) (config.ProviderConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[name]
	return cfg, ok
}

// Get returns the chat model serving modelName on the named provider,
// initializing it on first use.
func (r *Registry) Get(ctx context.Context, provider, modelName string) (model.ToolCallingChatModel, error) {
	r.mu.Lock()
	cfg, ok := r.configs[provider]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("model provider %q not found", provider)
	}

	key := provider + "/" + modelName
	e, ok := r.instances[key]
	if !ok {
		instCfg := cfg
		instCfg.Model = modelName
		e = &entry{cfg: instCfg}
		r.instances[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.model, e.err = CreateModel(ctx, e.cfg)
	})

	return e.model, e.err
}
