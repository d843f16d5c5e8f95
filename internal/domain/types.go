package domain

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStatus tracks the lifecycle of one user-submitted media file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

// QueueState tracks the batch-level lifecycle of the transcription queue.
type QueueState string

const (
	QueueStateIdle       QueueState = "idle"
	QueueStateProcessing QueueState = "processing"
	QueueStateCompleted  QueueState = "completed"
)

// MediaKind distinguishes video from audio inputs for UI display.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// UploadFile is one item in the transcription queue. Path points at the
// local media payload; Transcript is filled once the backend responds.
type UploadFile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	Kind       MediaKind  `json:"kind"`
	Duration   string     `json:"duration,omitempty"`
	Path       string     `json:"path"`
	Status     FileStatus `json:"status"`
	Progress   int        `json:"progress"`
	Transcript string     `json:"transcript,omitempty"`
	Error      string     `json:"error,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
}

// NewUploadFile creates a pending entry for a local media path.
func NewUploadFile(path string, size int64) UploadFile {
	name := filepath.Base(path)
	return UploadFile{
		ID:     uuid.NewString(),
		Name:   name,
		Size:   size,
		Kind:   KindForName(name),
		Path:   path,
		Status: FileStatusPending,
	}
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
}

// KindForName classifies a filename as video or audio by extension.
// Unknown extensions count as audio since the engine accepts both.
func KindForName(name string) MediaKind {
	if videoExtensions[strings.ToLower(filepath.Ext(name))] {
		return MediaKindVideo
	}
	return MediaKindAudio
}

// BaseName strips the media extension from a filename for transcript naming.
func BaseName(name string) string {
	base := strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" || base == "." {
		base = "transcricao"
	}
	return base
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir  string `json:"outputDir"`
	BackendURL string `json:"backendUrl"`
	Mode       string `json:"mode"`
	Language   string `json:"language"`
}
