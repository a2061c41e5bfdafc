package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `# comment line
QUEUE_SIGNING_KEY=sig_abc123
QUOTED="with spaces"
SINGLE='single quoted'
export EXPORTED=shell_style

MALFORMED_LINE
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"QUEUE_SIGNING_KEY", "QUOTED", "SINGLE", "EXPORTED"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := LoadDotenv(path); err != nil {
		t.Fatal(err)
	}

	if got := os.Getenv("QUEUE_SIGNING_KEY"); got != "sig_abc123" {
		t.Errorf("QUEUE_SIGNING_KEY = %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "with spaces" {
		t.Errorf("QUOTED = %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "single quoted" {
		t.Errorf("SINGLE = %q", got)
	}
	if got := os.Getenv("EXPORTED"); got != "shell_style" {
		t.Errorf("EXPORTED = %q", got)
	}
}

func TestLoadDotenv_NoOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("EXISTING_VAR=from_file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING_VAR", "from_env")

	if err := LoadDotenv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("EXISTING_VAR"); got != "from_env" {
		t.Errorf("existing env var was overridden: %q", got)
	}
}

func TestLoadDotenv_MissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}
}
