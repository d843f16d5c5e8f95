package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Backend is the environment-driven configuration of the local HTTP
// backend daemon.
type Backend struct {
	Addr        string // listen address, e.g. 127.0.0.1:3001
	UploadDir   string // staging area for multipart payloads
	ScriptPath  string // transcription engine entry point
	PythonPath  string // optional interpreter override
	LogLevel    string
}

// BackendFromEnv assembles backend configuration from the process
// environment, falling back to paths relative to the executable.
func BackendFromEnv() Backend {
	cfg := Backend{
		Addr:       "127.0.0.1:3001",
		UploadDir:  filepath.Join(os.TempDir(), "transcritor-uploads"),
		ScriptPath: defaultScriptPath(),
		PythonPath: os.Getenv("TRANSCRITOR_PYTHON"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Addr = "127.0.0.1:" + port
	}
	if dir := strings.TrimSpace(os.Getenv("TRANSCRITOR_UPLOAD_DIR")); dir != "" {
		cfg.UploadDir = dir
	}
	if script := strings.TrimSpace(os.Getenv("TRANSCRITOR_SCRIPT")); script != "" {
		cfg.ScriptPath = script
	}
	return cfg
}

// defaultScriptPath looks for the engine script next to the executable
// first, then in the working directory (dev runs).
func defaultScriptPath() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "transcribe.py")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join("backend", "transcribe.py")
}
