package config

import (
	"os"
	"path/filepath"

	"transcritor/internal/domain"
)

// DefaultMode is the quality mode applied when none is configured.
const DefaultMode = "balanced"

// DefaultLanguage is the locale the original tool targets.
const DefaultLanguage = "pt"

// DefaultBackendURL binds to explicit IPv4 loopback to sidestep
// localhost/IPv6 resolution differences across platforms.
const DefaultBackendURL = "http://127.0.0.1:3001"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:  filepath.Join(homeDir, "Documents", "Transcricoes"),
		BackendURL: DefaultBackendURL,
		Mode:       DefaultMode,
		Language:   DefaultLanguage,
	}
}
