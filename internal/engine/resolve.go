package engine

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// interpreterResolver finds a runnable Python interpreter for the
// engine script. Candidates are probed with a trivial --version run and
// the first working one is cached for later invocations.
type interpreterResolver struct {
	candidates []string
	runner     commandRunner

	mu       sync.Mutex
	resolved string
}

func newInterpreterResolver(envOverride string, runner commandRunner) *interpreterResolver {
	return &interpreterResolver{
		candidates: interpreterCandidates(envOverride, runtime.GOOS),
		runner:     runner,
	}
}

// interpreterCandidates lists interpreters in resolution order. An
// explicit override always goes first; Windows prefers the py launcher.
func interpreterCandidates(envOverride, goos string) []string {
	var candidates []string
	if v := strings.TrimSpace(envOverride); v != "" {
		candidates = append(candidates, v)
	}
	if goos == "windows" {
		return append(candidates, "py", "python")
	}
	return append(candidates, "python3", "python")
}

// resolve returns the first candidate that answers a version probe.
func (r *interpreterResolver) resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}

	var lastErr error
	for _, candidate := range r.candidates {
		if _, err := r.runner.Run(ctx, candidate, "--version"); err != nil {
			lastErr = err
			continue
		}
		r.resolved = candidate
		return candidate, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("no usable interpreter among %v: %w", r.candidates, lastErr)
	}
	return "", fmt.Errorf("no interpreter candidates configured")
}
