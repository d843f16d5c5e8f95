// Package server hosts the local transcription backend: one endpoint
// that accepts a media upload and supervises the engine, plus health
// and transcript-save routes for the desktop client.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"transcritor/internal/engine"
	applog "transcritor/internal/log"
	"transcritor/internal/output"
)

// Transcriber supervises one engine invocation per request.
type Transcriber interface {
	Transcribe(ctx context.Context, req engine.Request) engine.Outcome
}

// TextWriter persists transcript text with collision-safe naming.
type TextWriter interface {
	Write(directory, filename, content string) (output.Result, error)
}

// Config carries the handler's filesystem collaborators.
type Config struct {
	ScriptPath string // engine entry point, checked before each invocation
	UploadDir  string // staging area for multipart payloads
}

// Server is the HTTP-facing orchestrator.
type Server struct {
	cfg    Config
	engine Transcriber
	writer TextWriter
	log    zerolog.Logger
	stat   func(string) (os.FileInfo, error)
}

// New builds a server around a supervisor and an output writer.
func New(cfg Config, eng Transcriber, writer TextWriter) *Server {
	return &Server{
		cfg:    cfg,
		engine: eng,
		writer: writer,
		log:    applog.WithComponent("server"),
		stat:   os.Stat,
	}
}

// Handler returns the routed HTTP handler. Recoverer keeps a single
// bad request from taking the whole backend down.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/health", s.handleHealth)
	r.Post("/save-transcription", s.handleSave)
	return r
}

// requestLogger logs one line per request with status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
