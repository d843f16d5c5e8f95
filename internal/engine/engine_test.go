package engine

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

// fakeRunner simulates interpreter probes and engine executions.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// exitError fabricates an *exec.ExitError-shaped failure for tests.
// We cannot construct exec.ExitError with a code directly, so run a
// real command that fails fast.
func exitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("false").Run()
	if err == nil {
		// Some minimal environments lack "false"; fall back to a shell.
		err = exec.Command("sh", "-c", "exit 1").Run()
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skipf("cannot produce exec.ExitError on this host: %v", err)
	}
	return err
}

func isProbe(args []string) bool {
	return len(args) == 1 && args[0] == "--version"
}

func TestTranscribeSuccess(t *testing.T) {
	removed := 0
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			if name != "python3" {
				t.Fatalf("interpreter = %q, want python3", name)
			}
			if args[0] != "engine.py" {
				t.Fatalf("script arg = %q", args[0])
			}
			return commandResult{Stdout: `{"ok":true,"text":"hello","language":"pt"}`}, nil
		},
	}

	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error {
		removed++
		return nil
	})

	outcome := sup.Transcribe(context.Background(), Request{
		InputPath: "/tmp/upload-1.mp4",
		Mode:      "balanced",
		Language:  "pt",
	})

	if !outcome.OK {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if outcome.Text != "hello" || outcome.Language != "pt" {
		t.Fatalf("payload = %q/%q", outcome.Text, outcome.Language)
	}
	if removed != 1 {
		t.Fatalf("temp deletions = %d, want 1", removed)
	}
}

func TestTranscribeOmitsEmptyLanguage(t *testing.T) {
	var engineArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			engineArgs = append([]string{}, args...)
			return commandResult{Stdout: `{"ok":true,"text":"x","language":"en"}`}, nil
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error { return nil })

	sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "fast", Language: "  "})

	for _, arg := range engineArgs {
		if arg == "--language" {
			t.Fatalf("blank language must not be passed, args=%v", engineArgs)
		}
	}
}

func TestTranscribeInvalidStdoutIsInvalidResponse(t *testing.T) {
	removed := 0
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			return commandResult{Stdout: "segments: 42 done"}, nil
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error {
		removed++
		return nil
	})

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})

	if outcome.Kind != ErrorKindInvalidResponse {
		t.Fatalf("kind = %q, want invalid-response", outcome.Kind)
	}
	if removed != 1 {
		t.Fatalf("temp deletions = %d, want 1", removed)
	}
}

func TestTranscribeNonzeroExitUnsupportedMedia(t *testing.T) {
	exitErr := exitError(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			stdout := "loading model\n" +
				`{"ok":false,"error":"invalid data found when processing input"}`
			return commandResult{Stdout: stdout, ExitCode: 1}, exitErr
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error { return nil })

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})

	if outcome.Kind != ErrorKindUnsupportedMedia {
		t.Fatalf("kind = %q, want unsupported-media", outcome.Kind)
	}
	if outcome.Suggestion == "" {
		t.Fatal("expected a remediation suggestion")
	}
	if outcome.Message != "invalid data found when processing input" {
		t.Fatalf("message = %q", outcome.Message)
	}
}

func TestTranscribeNonzeroExitGenericKeepsDiagnostics(t *testing.T) {
	exitErr := exitError(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			return commandResult{Stdout: "no json here", Stderr: "Traceback: boom", ExitCode: 1}, exitErr
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error { return nil })

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})

	if outcome.Kind != ErrorKindGeneric {
		t.Fatalf("kind = %q, want generic", outcome.Kind)
	}
	if outcome.Details != "Traceback: boom" {
		t.Fatalf("details = %q", outcome.Details)
	}
}

func TestTranscribeNoInterpreterResolvable(t *testing.T) {
	removed := 0
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, errors.New("executable file not found")
			}
			t.Fatal("engine must not be spawned without an interpreter")
			return commandResult{}, nil
		},
	}
	sup := NewForTests("engine.py", []string{"python3", "python"}, runner, func(string) error {
		removed++
		return nil
	})

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})

	if outcome.Kind != ErrorKindEngineNotFound {
		t.Fatalf("kind = %q, want engine-not-found", outcome.Kind)
	}
	if removed != 1 {
		t.Fatalf("temp deletions = %d, want 1", removed)
	}
}

func TestTranscribeSpawnFailureIsEngineNotFound(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			return commandResult{ExitCode: -1}, errors.New("fork/exec: permission denied")
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error { return nil })

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})

	if outcome.Kind != ErrorKindEngineNotFound {
		t.Fatalf("kind = %q, want engine-not-found", outcome.Kind)
	}
	if outcome.Details == "" {
		t.Fatal("expected OS error details")
	}
}

func TestTranscribeDeletionFailureDoesNotMaskOutcome(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if isProbe(args) {
				return commandResult{}, nil
			}
			return commandResult{Stdout: `{"ok":true,"text":"t","language":"pt"}`}, nil
		},
	}
	sup := NewForTests("engine.py", []string{"python3"}, runner, func(string) error {
		return errors.New("permission denied")
	})

	outcome := sup.Transcribe(context.Background(), Request{InputPath: "/tmp/a", Mode: "balanced"})
	if !outcome.OK {
		t.Fatalf("outcome = %+v, want success despite cleanup error", outcome)
	}
}

func TestResolverPrefersOverrideAndCaches(t *testing.T) {
	probes := map[string]int{}
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			probes[name]++
			if name == "/opt/venv/bin/python" {
				return commandResult{}, nil
			}
			return commandResult{}, errors.New("not found")
		},
	}
	resolver := &interpreterResolver{
		candidates: interpreterCandidates("/opt/venv/bin/python", "linux"),
		runner:     runner,
	}

	for i := 0; i < 3; i++ {
		got, err := resolver.resolve(context.Background())
		if err != nil {
			t.Fatalf("resolve() error = %v", err)
		}
		if got != "/opt/venv/bin/python" {
			t.Fatalf("resolved = %q", got)
		}
	}
	if probes["/opt/venv/bin/python"] != 1 {
		t.Fatalf("override probed %d times, want 1 (cached)", probes["/opt/venv/bin/python"])
	}
}

func TestInterpreterCandidatesPerPlatform(t *testing.T) {
	got := interpreterCandidates("", "windows")
	if len(got) != 2 || got[0] != "py" || got[1] != "python" {
		t.Fatalf("windows candidates = %v", got)
	}

	got = interpreterCandidates("", "darwin")
	if len(got) != 2 || got[0] != "python3" || got[1] != "python" {
		t.Fatalf("darwin candidates = %v", got)
	}

	got = interpreterCandidates(" /custom/python ", "linux")
	if got[0] != "/custom/python" {
		t.Fatalf("override must come first, got %v", got)
	}
}
