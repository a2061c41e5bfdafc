package models

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/calliope-studio/calliope/internal/config"
)

// Source lists the model names each provider serves.
type Source interface {
	// ModelMap returns model name → provider name.
	ModelMap(ctx context.Context) (map[string]string, error)
}

// ConfigSource derives the model map from static provider configuration.
type ConfigSource struct {
	cfg config.ModelsConfig
}

// NewConfigSource creates a Source backed by the models config.
func NewConfigSource(cfg config.ModelsConfig) *ConfigSource {
	return &ConfigSource{cfg: cfg}
}

func (s *ConfigSource) ModelMap(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for name, prov := range s.cfg.Providers {
		if prov.Model != "" {
			out[prov.Model] = name
		}
		for _, m := range prov.Models {
			out[m] = name
		}
	}
	return out, nil
}

// Directory resolves a model name to the provider that serves it. The model
// map is cached and refreshed lazily; when a refresh fails the previous map
// stays in use. Unknown models fall back to a name-pattern heuristic.
type Directory struct {
	source       Source
	refreshEvery time.Duration
	byDriver     map[string]string // driver → provider name, for the heuristic

	mu        sync.Mutex
	cached    map[string]string
	fetchedAt time.Time
	now       func() time.Time
}

// NewDirectory creates a model directory over the given source. byDriver maps
// driver names to configured provider names so the heuristic can land on a
// real provider.
func NewDirectory(source Source, refreshEvery time.Duration, providers map[string]config.ProviderConfig) *Directory {
	byDriver := make(map[string]string)
	for name, prov := range providers {
		driver := strings.ToLower(prov.Driver)
		if _, ok := byDriver[driver]; !ok {
			byDriver[driver] = name
		}
	}
	return &Directory{
		source:       source,
		refreshEvery: refreshEvery,
		byDriver:     byDriver,
		now:          time.Now,
	}
}

// Resolve returns the provider name serving modelName. It first consults the
// cached model map, then the name heuristic. ok is false only when neither
// yields a configured provider.
func (d *Directory) Resolve(ctx context.Context, modelName string) (string, bool) {
	snapshot := d.snapshot(ctx)
	if provider, ok := snapshot[modelName]; ok {
		return provider, true
	}

	driver := GuessDriver(modelName)
	provider, ok := d.byDriver[driver]
	return provider, ok
}

func (d *Directory) snapshot(ctx context.Context) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.now().Sub(d.fetchedAt) < d.refreshEvery {
		return d.cached
	}

	fresh, err := d.source.ModelMap(ctx)
	if err != nil {
		// Keep serving the stale map, retry on the next lookup.
		slog.Warn("model directory refresh failed", "error", err)
		if d.cached != nil {
			return d.cached
		}
		return map[string]string{}
	}

	d.cached = fresh
	d.fetchedAt = d.now()
	return d.cached
}

// GuessDriver infers a provider driver from a model name. Vendor-prefixed
// names ("org/model") and ":free" variants belong to OpenAI-compatible
// routers; everything unrecognized is assumed to be a local Ollama model.
func GuessDriver(modelName string) string {
	name := strings.ToLower(modelName)

	switch {
	case strings.Contains(name, "/") || strings.HasSuffix(name, ":free"):
		return "openai"
	case strings.HasPrefix(name, "claude"):
		return "anthropic"
	case strings.HasPrefix(name, "gpt"),
		strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"),
		strings.HasPrefix(name, "o4"),
		strings.HasPrefix(name, "chatgpt"):
		return "openai"
	case strings.HasPrefix(name, "gemini"):
		return "gemini"
	default:
		return "ollama"
	}
}
