package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"transcritor/internal/domain"
)

// Checker validates the transcription engine setup and output paths
// before the user starts a batch.
type Checker struct {
	pythonOverride string // optional interpreter path from the environment
	scriptPath     string

	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(pythonOverride, scriptPath string) *Checker {
	return &Checker{
		pythonOverride: pythonOverride,
		scriptPath:     scriptPath,
		lookPath:       exec.LookPath,
		stat:           os.Stat,
		mkdirAll:       os.MkdirAll,
		createTemp:     os.CreateTemp,
		remove:         os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkInterpreter(),
		c.checkScript(),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// interpreterCandidates mirrors the supervisor's resolution order.
func (c *Checker) interpreterCandidates() []string {
	var candidates []string
	if v := strings.TrimSpace(c.pythonOverride); v != "" {
		candidates = append(candidates, v)
	}
	if runtime.GOOS == "windows" {
		return append(candidates, "py", "python")
	}
	return append(candidates, "python3", "python")
}

// checkInterpreter verifies some Python interpreter is available.
func (c *Checker) checkInterpreter() domain.DiagnosticItem {
	candidates := c.interpreterCandidates()
	for _, candidate := range candidates {
		if path, err := c.lookPath(candidate); err == nil {
			return domain.DiagnosticItem{
				ID:      "engine_interpreter",
				Name:    "Python interpreter",
				Status:  domain.DiagnosticStatusPass,
				Message: fmt.Sprintf("Found at %s", path),
			}
		}
	}

	return domain.DiagnosticItem{
		ID:      "engine_interpreter",
		Name:    "Python interpreter",
		Status:  domain.DiagnosticStatusFail,
		Message: fmt.Sprintf("No interpreter found among: %s", strings.Join(candidates, ", ")),
		Hint:    "Install Python 3 and make sure it is on PATH, or set TRANSCRITOR_PYTHON to the interpreter path.",
	}
}

// checkScript validates the engine entry point exists on disk.
func (c *Checker) checkScript() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "engine_script",
		Name: "Engine script",
	}

	if strings.TrimSpace(c.scriptPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Engine script path is empty."
		item.Hint = "Set TRANSCRITOR_SCRIPT to the transcribe.py location."
		return item
	}

	info, err := c.stat(c.scriptPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Engine script does not exist: %s", c.scriptPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access engine script: %s", c.scriptPath)
		}
		item.Hint = "Reinstall the application or point TRANSCRITOR_SCRIPT at a valid engine script."
		return item
	}
	if info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine script path is a directory: %s", c.scriptPath)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Engine script found: %s", c.scriptPath)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where transcript files can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for transcript export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	pythonOverride string,
	scriptPath string,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		pythonOverride: pythonOverride,
		scriptPath:     scriptPath,
		lookPath:       lookPath,
		stat:           stat,
		mkdirAll:       mkdirAll,
		createTemp:     createTemp,
		remove:         remove,
	}
}
