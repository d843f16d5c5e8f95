package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidInput marks validation failures the caller provoked, as
// opposed to I/O problems on the target directory.
var ErrInvalidInput = errors.New("invalid save request")

// utf8BOM is prepended to transcripts so Windows text editors detect
// the encoding.
const utf8BOM = "\ufeff"

// maxCollisionAttempts bounds the counter-prefix search. A directory
// with this many same-named transcripts is a configuration problem.
const maxCollisionAttempts = 10000

var allowedExtensions = map[string]bool{".txt": true}

// Result reports where a transcript actually landed after collision
// resolution.
type Result struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// Writer persists transcript text into a user-selected directory
// without ever clobbering existing files.
type Writer struct {
	stat      func(string) (os.FileInfo, error)
	mkdirAll  func(string, os.FileMode) error
	openExcl  func(string) (*os.File, error)
}

// NewWriter constructs a writer backed by real OS calls.
func NewWriter() *Writer {
	return &Writer{
		stat:     os.Stat,
		mkdirAll: os.MkdirAll,
		openExcl: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		},
	}
}

// Write stores content as directory/filename, resolving name
// collisions with a deterministic counter prefix. Content may be empty;
// the filename must already carry an allowed text extension.
func (w *Writer) Write(directory, filename, content string) (Result, error) {
	directory = strings.TrimSpace(directory)
	filename = strings.TrimSpace(filename)

	if directory == "" {
		return Result{}, fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}
	if filename == "" || filepath.Base(filename) != filename {
		return Result{}, fmt.Errorf("%w: filename is required and must not contain path separators", ErrInvalidInput)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return Result{}, fmt.Errorf("%w: extension %q is not allowed", ErrInvalidInput, ext)
	}

	if err := w.mkdirAll(directory, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory %s: %w", directory, err)
	}

	finalName, err := w.resolveCollision(directory, filename)
	if err != nil {
		return Result{}, err
	}

	if !strings.HasPrefix(content, utf8BOM) {
		content = utf8BOM + content
	}

	finalPath := filepath.Join(directory, finalName)
	f, err := w.openExcl(finalPath)
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", finalPath, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("write %s: %w", finalPath, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("flush %s: %w", finalPath, err)
	}

	return Result{Path: finalPath, Filename: finalName}, nil
}

// resolveCollision returns the desired name unchanged when free, and
// otherwise the first unused "N_name" variant.
func (w *Writer) resolveCollision(directory, filename string) (string, error) {
	if !w.exists(filepath.Join(directory, filename)) {
		return filename, nil
	}

	for i := 1; i <= maxCollisionAttempts; i++ {
		candidate := fmt.Sprintf("%d_%s", i, filename)
		if !w.exists(filepath.Join(directory, candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free filename for %s in %s after %d attempts", filename, directory, maxCollisionAttempts)
}

func (w *Writer) exists(path string) bool {
	_, err := w.stat(path)
	return err == nil
}
