package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	applog "transcritor/internal/log"
)

// Request describes one transcription attempt against the engine script.
// InputPath must be an absolute path to a readable media file; the
// supervisor owns the file and deletes it once the outcome is known.
type Request struct {
	InputPath string
	Mode      string
	Language  string
}

// ErrorKind classifies a failed transcription attempt.
type ErrorKind string

const (
	ErrorKindUnsupportedMedia ErrorKind = "unsupported-media"
	ErrorKindEngineNotFound   ErrorKind = "engine-not-found"
	ErrorKindInvalidResponse  ErrorKind = "invalid-response"
	ErrorKindGeneric          ErrorKind = "generic"
)

// Outcome is the typed result of one supervised engine invocation.
type Outcome struct {
	OK         bool
	Text       string
	Language   string
	Kind       ErrorKind
	Message    string
	Suggestion string
	Details    string
}

// payload mirrors the single JSON object the engine prints on stdout.
type payload struct {
	OK       bool   `json:"ok"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

// stderrPreviewLimit bounds how much engine stderr is logged per run.
const stderrPreviewLimit = 500

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec. Stdin stays closed: the
// engine takes everything through arguments.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Supervisor locates the transcription engine on the host, invokes it
// once per request, and maps exit code plus stdout to an Outcome.
type Supervisor struct {
	scriptPath  string
	envOverride string
	runner      commandRunner
	remove      func(string) error
	log         zerolog.Logger

	resolver *interpreterResolver
}

// New constructs a production supervisor for the given engine script.
// envOverride, when non-empty, is tried before platform candidates.
func New(scriptPath, envOverride string) *Supervisor {
	runner := &execRunner{}
	return &Supervisor{
		scriptPath:  scriptPath,
		envOverride: envOverride,
		runner:      runner,
		remove:      os.Remove,
		log:         applog.WithComponent("engine"),
		resolver:    newInterpreterResolver(envOverride, runner),
	}
}

// Transcribe runs the engine for one request and returns its outcome.
// The source temp file is deleted exactly once, success or failure;
// deletion problems are logged but never mask the outcome.
func (s *Supervisor) Transcribe(ctx context.Context, req Request) Outcome {
	defer func() {
		if err := s.remove(req.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", req.InputPath).Msg("temp file cleanup failed")
		}
	}()

	interpreter, err := s.resolver.resolve(ctx)
	if err != nil {
		return Outcome{
			Kind:    ErrorKindEngineNotFound,
			Message: "transcription engine not found (install Python and the engine dependencies)",
			Details: err.Error(),
		}
	}

	args := []string{s.scriptPath, "--input", req.InputPath, "--mode", req.Mode}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	result, runErr := s.runner.Run(ctx, interpreter, args...)
	if result.Stderr != "" {
		s.log.Warn().Str("stderr", preview(result.Stderr)).Msg("engine diagnostics")
	}

	if runErr == nil {
		return s.successOutcome(result.Stdout)
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		// The process never ran: interpreter vanished or is unusable.
		return Outcome{
			Kind:    ErrorKindEngineNotFound,
			Message: "failed to start the transcription engine",
			Details: runErr.Error(),
		}
	}

	return s.failureOutcome(result)
}

// successOutcome parses the exit-0 stdout as a single JSON payload.
func (s *Supervisor) successOutcome(stdout string) Outcome {
	var p payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &p); err != nil {
		s.log.Error().Err(err).Msg("engine stdout is not valid JSON")
		return Outcome{
			Kind:    ErrorKindInvalidResponse,
			Message: "invalid response from the transcription engine",
		}
	}
	if !p.OK {
		return s.classifyError(p.Error, "")
	}

	return Outcome{OK: true, Text: p.Text, Language: p.Language}
}

// failureOutcome recovers a structured error from a nonzero exit. The
// stdout may carry concatenated fragments; only the last well-formed
// JSON object counts.
func (s *Supervisor) failureOutcome(result commandResult) Outcome {
	scan := LastJSONObject([]byte(result.Stdout))
	if scan.Status != ParseNone {
		var p payload
		if err := json.Unmarshal(scan.Raw, &p); err == nil && p.Error != "" {
			return s.classifyError(p.Error, result.Stderr)
		}
	}

	details := strings.TrimSpace(result.Stderr)
	if details == "" {
		details = strings.TrimSpace(result.Stdout)
	}
	return Outcome{
		Kind:    ErrorKindGeneric,
		Message: "transcription failed",
		Details: details,
	}
}

// classifyError maps an engine error message onto the failure taxonomy.
func (s *Supervisor) classifyError(message, stderr string) Outcome {
	if IsUnsupportedMedia(message) {
		return Outcome{
			Kind:       ErrorKindUnsupportedMedia,
			Message:    message,
			Suggestion: ReencodeSuggestion,
		}
	}

	details := strings.TrimSpace(stderr)
	return Outcome{
		Kind:    ErrorKindGeneric,
		Message: message,
		Details: details,
	}
}

// preview truncates diagnostic text to a bounded length for logging.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= stderrPreviewLimit {
		return text
	}
	return string(runes[:stderrPreviewLimit]) + "…"
}

// NewForTests constructs a supervisor with injectable dependencies.
func NewForTests(
	scriptPath string,
	candidates []string,
	runner commandRunner,
	remove func(string) error,
) *Supervisor {
	return &Supervisor{
		scriptPath: scriptPath,
		runner:     runner,
		remove:     remove,
		log:        zerolog.Nop(),
		resolver: &interpreterResolver{
			candidates: candidates,
			runner:     runner,
		},
	}
}
