// Package generate implements the content-generation routines behind each
// task kind. Every handler renders a prompt, runs it through the provider
// fallback engine, and shapes the model output into the task result.
package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calliope-studio/calliope/internal/tasks"
)

// Engine runs a prompt against an ordered list of candidate models and
// returns the winning response plus the model that produced it. Satisfied by
// models.Engine.
type Engine interface {
	Generate(ctx context.Context, prompt string, candidates []string, structured bool) (text string, modelUsed string, err error)
}

// Generator builds the task handlers for all generation kinds.
type Generator struct {
	engine          Engine
	globalFallbacks []string
}

// NewGenerator creates a generator. globalFallbacks are the admin-configured
// models of last resort, tried after any task-level preferences.
func NewGenerator(engine Engine, globalFallbacks []string) *Generator {
	return &Generator{engine: engine, globalFallbacks: globalFallbacks}
}

// Handlers returns the kind → handler map consumed by the task executor.
func (g *Generator) Handlers() tasks.HandlerMap {
	return tasks.HandlerMap{
		tasks.KindGenerateMediaPlan:   g.mediaPlan,
		tasks.KindCreateBrandFromIdea: g.brandFromIdea,
		tasks.KindGenerateKit:         g.kit,
		tasks.KindGenerateIdeas:       g.ideas,
		tasks.KindGeneratePersonas:    g.personas,
		tasks.KindGenerateTrends:      g.trends,
	}
}

// ModelPrefs are the model selection fields shared by every payload kind.
type ModelPrefs struct {
	PreferredModel string   `json:"preferredModel,omitempty"`
	FallbackModels []string `json:"fallbackModels,omitempty"`
}

// candidates assembles the ordered fallback chain: the task's preferred
// model first, then its own fallbacks, then the global fallbacks. The engine
// deduplicates.
func (g *Generator) candidates(prefs ModelPrefs) []string {
	out := make([]string, 0, 1+len(prefs.FallbackModels)+len(g.globalFallbacks))
	if prefs.PreferredModel != "" {
		out = append(out, prefs.PreferredModel)
	}
	out = append(out, prefs.FallbackModels...)
	out = append(out, g.globalFallbacks...)
	return out
}

// run renders the named prompt, generates with fallback, and decodes the
// structured response into shape.
func (g *Generator) run(ctx context.Context, prompt string, prefs ModelPrefs, shape any) (string, error) {
	text, modelUsed, err := g.engine.Generate(ctx, prompt, g.candidates(prefs), true)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(text), shape); err != nil {
		return "", fmt.Errorf("model %s returned malformed JSON: %w", modelUsed, err)
	}
	return modelUsed, nil
}

func decodePayload(t *tasks.Task, into any) error {
	if err := json.Unmarshal(t.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

func marshalResult(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}
