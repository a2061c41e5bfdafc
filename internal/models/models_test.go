package models

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/calliope-studio/calliope/internal/config"
)

func TestResolveAuth_DirectAPIKey(t *testing.T) {
	cfg := config.ProviderConfig{
		Driver: "anthropic",
		Auth:   config.AuthConfig{APIKey: "sk-ant-test-123"},
	}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.APIKey != "sk-ant-test-123" {
		t.Fatalf("expected key %q, got %q", "sk-ant-test-123", auth.APIKey)
	}
}

func TestResolveAuth_EnvVarSyntax(t *testing.T) {
	t.Setenv("MY_CUSTOM_KEY", "custom-api-key-value")

	cfg := config.ProviderConfig{
		Driver: "anthropic",
		Auth:   config.AuthConfig{APIKey: "${MY_CUSTOM_KEY}"},
	}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.APIKey != "custom-api-key-value" {
		t.Fatalf("expected key %q, got %q", "custom-api-key-value", auth.APIKey)
	}
}

func TestResolveAuth_FallbackDriverEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")

	cfg := config.ProviderConfig{Driver: "openai"}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.APIKey != "env-openai-key" {
		t.Fatalf("expected key %q, got %q", "env-openai-key", auth.APIKey)
	}
}

func TestResolveAuth_UnknownDriver(t *testing.T) {
	cfg := config.ProviderConfig{Driver: "cohere"}
	_, err := ResolveAuth(cfg)
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected 'unknown driver' error, got %v", err)
	}
}

func TestResolveAuth_NothingSet(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := config.ProviderConfig{Driver: "anthropic"}
	_, err := ResolveAuth(cfg)
	if err == nil {
		t.Fatal("expected error when no auth is available")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY not set") {
		t.Fatalf("expected 'ANTHROPIC_API_KEY not set' error, got %v", err)
	}
}

func TestRegistry_GetUnknownProvider(t *testing.T) {
	reg := NewRegistry(config.ModelsConfig{
		Providers: map[string]config.ProviderConfig{},
	})

	_, err := reg.Get(context.Background(), "nonexistent", "some-model")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected 'not found' error, got %v", err)
	}
}

func TestCreateModel_UnknownDriver(t *testing.T) {
	cfg := config.ProviderConfig{Driver: "unknown-driver"}
	_, err := CreateModel(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected 'unknown driver' error, got %v", err)
	}
}

func TestGuessDriver(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-5", "anthropic"},
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"chatgpt-4o-latest", "openai"},
		{"gemini-2.5-flash", "gemini"},
		{"meta-llama/llama-3.1-8b-instruct", "openai"},
		{"deepseek-r1:free", "openai"},
		{"llama3.2", "ollama"},
		{"mystery-model", "ollama"},
	}
	for _, tc := range cases {
		if got := GuessDriver(tc.model); got != tc.want {
			t.Errorf("GuessDriver(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

type staticSource struct {
	modelMap map[string]string
	err      error
	calls    int
}

func (s *staticSource) ModelMap(ctx context.Context) (map[string]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.modelMap, nil
}

func testProviders() map[string]config.ProviderConfig {
	return map[string]config.ProviderConfig{
		"claude":  {Driver: "anthropic"},
		"openai":  {Driver: "openai"},
		"local":   {Driver: "ollama"},
		"gem-pro": {Driver: "gemini"},
	}
}

func TestDirectory_ResolveKnownModel(t *testing.T) {
	src := &staticSource{modelMap: map[string]string{"custom-tuned-model": "gem-pro"}}
	dir := NewDirectory(src, time.Minute, testProviders())

	provider, ok := dir.Resolve(context.Background(), "custom-tuned-model")
	if !ok || provider != "gem-pro" {
		t.Fatalf("Resolve = %q, %v; want gem-pro, true", provider, ok)
	}
}

func TestDirectory_HeuristicFallback(t *testing.T) {
	src := &staticSource{modelMap: map[string]string{}}
	dir := NewDirectory(src, time.Minute, testProviders())

	provider, ok := dir.Resolve(context.Background(), "claude-opus-4-1")
	if !ok || provider != "claude" {
		t.Fatalf("Resolve = %q, %v; want claude, true", provider, ok)
	}

	provider, ok = dir.Resolve(context.Background(), "unrecognized-thing")
	if !ok || provider != "local" {
		t.Fatalf("Resolve = %q, %v; want local, true", provider, ok)
	}
}

func TestDirectory_CachesWithinTTL(t *testing.T) {
	src := &staticSource{modelMap: map[string]string{"m": "openai"}}
	dir := NewDirectory(src, time.Minute, testProviders())

	dir.Resolve(context.Background(), "m")
	dir.Resolve(context.Background(), "m")
	if src.calls != 1 {
		t.Fatalf("expected 1 source call within TTL, got %d", src.calls)
	}

	dir.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	dir.Resolve(context.Background(), "m")
	if src.calls != 2 {
		t.Fatalf("expected refresh after TTL, got %d source calls", src.calls)
	}
}

func TestConfigSource_ModelMap(t *testing.T) {
	src := NewConfigSource(config.ModelsConfig{
		Providers: map[string]config.ProviderConfig{
			"claude": {Driver: "anthropic", Model: "claude-sonnet-4-5", Models: []string{"claude-opus-4-1"}},
			"local":  {Driver: "ollama", Model: "llama3.2"},
		},
	})

	m, err := src.ModelMap(context.Background())
	if err != nil {
		t.Fatalf("ModelMap: %v", err)
	}
	if m["claude-sonnet-4-5"] != "claude" || m["claude-opus-4-1"] != "claude" || m["llama3.2"] != "local" {
		t.Fatalf("unexpected model map: %v", m)
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := StripCodeFences(tc.in); got != tc.want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
