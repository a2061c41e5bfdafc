package config

import "time"

// Config is the root configuration for Calliope.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Runtime RuntimeConfig `json:"runtime"`
	Limits  LimitsConfig  `json:"limits"`
	Queue   QueueConfig   `json:"queue"`
	Models  ModelsConfig  `json:"models"`
	Events  EventsConfig  `json:"events"`
	Storage StorageConfig `json:"storage"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RuntimeConfig describes the deployment environment.
type RuntimeConfig struct {
	// Environment is "local" or "production". Only production deployments
	// publish to the durable queue; everything else runs the local pool.
	Environment string `json:"environment"`
	// CallbackURL is the externally reachable URL of this process, used as
	// the queue delivery target (e.g. "https://api.example.com").
	CallbackURL string `json:"callback_url,omitempty"`
}

// IsProduction reports whether the runtime is a production-like environment.
func (r RuntimeConfig) IsProduction() bool {
	return r.Environment == "production"
}

// LimitsConfig holds admission and pool sizing settings.
type LimitsConfig struct {
	SubmitCooldown Duration `json:"submit_cooldown,omitempty"` // per-user gap between task submissions
	PoolWorkers    int      `json:"pool_workers,omitempty"`
	PoolQueueSize  int      `json:"pool_queue_size,omitempty"`
}

// QueueConfig configures the durable queue provider.
type QueueConfig struct {
	URL   string `json:"url,omitempty"`   // queue provider base URL
	Token string `json:"token,omitempty"` // publish auth token

	// Two signing keys are valid at once so keys can rotate without
	// rejecting in-flight deliveries.
	CurrentSigningKey string `json:"current_signing_key,omitempty"`
	NextSigningKey    string `json:"next_signing_key,omitempty"`

	PublishTimeout Duration `json:"publish_timeout,omitempty"`
}

// Configured reports whether the durable queue can be used.
func (q QueueConfig) Configured() bool {
	return q.URL != "" && q.Token != ""
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default          string                    `json:"default"`
	Providers        map[string]ProviderConfig `json:"providers"`
	GlobalFallbacks  []string                  `json:"global_fallbacks,omitempty"` // admin-level fallback model names, in order
	DirectoryRefresh Duration                  `json:"directory_refresh,omitempty"`
}

// ProviderConfig configures a single generation provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"`           // "anthropic", "openai", "gemini", "ollama"
	Model     string         `json:"model"`            // default model for this provider
	Models    []string       `json:"models,omitempty"` // additional model names served by this provider
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // direct key or ${ENV_VAR} indirection
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DataDir      string `json:"data_dir,omitempty"`      // default: $CALLIOPE_PATH
	DatabasePath string `json:"database_path,omitempty"` // default: $CALLIOPE_PATH/tasks.db
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
