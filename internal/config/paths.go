package config

import (
	"os"
	"path/filepath"
)

// CalliopePath returns the root directory for Calliope data.
// It uses $CALLIOPE_PATH if set, otherwise defaults to ~/.calliope.
func CalliopePath() string {
	if v := os.Getenv("CALLIOPE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".calliope")
	}
	return filepath.Join(home, ".calliope")
}

// ConfigPath returns the path to the Calliope config file.
func ConfigPath() string {
	return filepath.Join(CalliopePath(), "config.jsonc")
}

// DotenvPath returns the path to the Calliope .env file.
func DotenvPath() string {
	return filepath.Join(CalliopePath(), ".env")
}
