package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcritor/internal/engine"
	"transcritor/internal/output"
)

// maxUploadBytes caps multipart memory buffering; larger payloads
// spill to disk via the multipart reader.
const maxUploadBytes = 32 << 20

// DefaultLanguage is applied when the client omits a language code.
const DefaultLanguage = "pt"

// DefaultMode is applied when the client omits a quality mode.
const DefaultMode = "balanced"

// transcribeResponse is the envelope for /transcribe results.
type transcribeResponse struct {
	OK         bool   `json:"ok"`
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
}

// saveRequest is the body of /save-transcription.
type saveRequest struct {
	Directory string `json:"directory"`
	Filename  string `json:"filename"`
	Content   string `json:"content"`
}

// saveResponse is the envelope for /save-transcription results.
type saveResponse struct {
	OK       bool   `json:"ok"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

// healthResponse is the liveness payload probed by the client queue.
type healthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, transcribeResponse{Error: "invalid multipart body"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transcribeResponse{Error: "no file attached"})
		return
	}
	defer func() { _ = file.Close() }()

	mode := strings.TrimSpace(r.FormValue("mode"))
	if mode == "" {
		mode = DefaultMode
	}
	language := strings.TrimSpace(r.FormValue("language"))
	if language == "" {
		language = DefaultLanguage
	}

	tempPath, err := s.stageUpload(file, header.Filename)
	if err != nil {
		s.log.Error().Err(err).Msg("stage upload")
		writeJSON(w, http.StatusInternalServerError, transcribeResponse{Error: "failed to store uploaded file"})
		return
	}

	// Defensive checks, distinct from engine resolution: the script and
	// the staged payload must be on disk before spawning anything.
	if _, err := s.stat(s.cfg.ScriptPath); err != nil {
		_ = os.Remove(tempPath)
		writeJSON(w, http.StatusInternalServerError, transcribeResponse{
			Error:   "transcription script not found",
			Details: s.cfg.ScriptPath,
		})
		return
	}
	if _, err := s.stat(tempPath); err != nil {
		writeJSON(w, http.StatusInternalServerError, transcribeResponse{
			Error:   "uploaded temp file not found",
			Details: tempPath,
		})
		return
	}

	outcome := s.engine.Transcribe(r.Context(), engine.Request{
		InputPath: tempPath,
		Mode:      mode,
		Language:  language,
	})

	if outcome.OK {
		writeJSON(w, http.StatusOK, transcribeResponse{
			OK:       true,
			Text:     outcome.Text,
			Language: outcome.Language,
		})
		return
	}

	switch outcome.Kind {
	case engine.ErrorKindUnsupportedMedia:
		writeJSON(w, http.StatusBadRequest, transcribeResponse{
			Error:      outcome.Message,
			Suggestion: outcome.Suggestion,
			Code:       "UNSUPPORTED_MEDIA",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, transcribeResponse{
			Error:   outcome.Message,
			Details: outcome.Details,
		})
	}
}

// stageUpload copies the multipart payload into the uploads dir,
// preserving the original extension for the engine's decoder.
func (s *Server) stageUpload(file io.Reader, originalName string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}

	ext := filepath.Ext(originalName)
	tmp, err := os.CreateTemp(s.cfg.UploadDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Message:   "Backend funcionando",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, saveResponse{Error: "invalid JSON body"})
		return
	}

	res, err := s.writer.Write(req.Directory, req.Filename, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, output.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, saveResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, saveResponse{OK: true, Path: res.Path, Filename: res.Filename})
}
