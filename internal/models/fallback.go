package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/calliope-studio/calliope/internal/events"
)

const defaultCallTimeout = 2 * time.Minute

// structuredInstruction is appended to prompts that must yield machine-readable
// output. Code fences are still stripped from responses since some models wrap
// JSON regardless.
const structuredInstruction = "\n\nRespond with valid JSON only. No prose, no markdown code fences."

// ModelSource yields a chat model for a provider+model pair.
type ModelSource interface {
	Get(ctx context.Context, provider, modelName string) (model.ToolCallingChatModel, error)
}

// Resolver maps a model name to the provider serving it.
type Resolver interface {
	Resolve(ctx context.Context, modelName string) (string, bool)
}

// Engine runs a generation against an ordered list of candidate models,
// falling through to the next candidate whenever one fails. The first
// candidate producing a non-empty response wins.
type Engine struct {
	models      ModelSource
	directory   Resolver
	bus         *events.Bus
	callTimeout time.Duration
}

// NewEngine creates a fallback engine. callTimeout bounds each individual
// model call; zero selects a default.
func NewEngine(models ModelSource, directory Resolver, bus *events.Bus, callTimeout time.Duration) *Engine {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Engine{
		models:      models,
		directory:   directory,
		bus:         bus,
		callTimeout: callTimeout,
	}
}

// Generate tries each candidate model in order and returns the first
// successful response text along with the name of the model that produced it.
// When structured is true the prompt is augmented to request bare JSON and
// code fences are stripped from the response.
func (e *Engine) Generate(ctx context.Context, prompt string, candidates []string, structured bool) (string, string, error) {
	list := dedupeCandidates(candidates)
	if len(list) == 0 {
		return "", "", fmt.Errorf("generate: %w", ErrNoCandidates)
	}

	if structured {
		prompt += structuredInstruction
	}

	var lastErr error
	for _, name := range list {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		provider, ok := e.directory.Resolve(ctx, name)
		if !ok {
			lastErr = fmt.Errorf("no provider serves model %q", name)
			slog.Warn("skipping candidate", "model", name, "error", lastErr)
			continue
		}

		text, err := e.tryCandidate(ctx, provider, name, prompt)
		if err != nil {
			lastErr = err
			slog.Warn("candidate failed", "model", name, "provider", provider, "error", err)
			continue
		}

		if structured {
			text = StripCodeFences(text)
		}
		return text, name, nil
	}

	return "", "", fmt.Errorf("%w (%d candidates): %w", ErrAllProvidersFailed, len(list), lastErr)
}

func (e *Engine) tryCandidate(ctx context.Context, provider, name, prompt string) (string, error) {
	m, err := e.models.Get(ctx, provider, name)
	if err != nil {
		e.publishCall(name, provider, events.ModelCallFailed, err, 0)
		return "", fmt.Errorf("init model %s: %w", name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	msg, err := m.Generate(callCtx, []*schema.Message{schema.UserMessage(prompt)})
	elapsed := time.Since(start)

	if err != nil {
		err = HandleError(err)
		e.publishCall(name, provider, events.ModelCallFailed, err, elapsed)
		return "", fmt.Errorf("model %s: %w", name, err)
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		err = fmt.Errorf("model %s returned an empty response", name)
		e.publishCall(name, provider, events.ModelCallFailed, err, elapsed)
		return "", err
	}

	e.publishCall(name, provider, events.ModelCallSucceeded, nil, elapsed)
	return text, nil
}

func (e *Engine) publishCall(modelName, provider string, phase events.ModelCallPhase, err error, elapsed time.Duration) {
	if e.bus == nil {
		return
	}
	payload := events.ModelCallPayload{
		Model:      modelName,
		Provider:   provider,
		Phase:      phase,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	e.bus.Publish(events.NewTypedEvent(events.SourceEngine, payload))
}

func dedupeCandidates(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// StripCodeFences removes a surrounding markdown code fence from a model
// response, tolerating a language tag after the opening fence.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "yaml", ...).
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{[\"") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
