// Package queue drives sequential transcription of a batch of local
// media files: one upload at a time against the local backend, with
// transport-level retry, progress tracking, and transcript persistence.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"transcritor/internal/domain"
	applog "transcritor/internal/log"
	"transcritor/internal/transport"
)

var (
	// ErrBatchRunning is returned when a batch start is requested while
	// a previous batch is still draining.
	ErrBatchRunning = errors.New("a transcription batch is already running")

	// ErrNoBatchRunning is returned for cancel requests with no batch
	// in flight.
	ErrNoBatchRunning = errors.New("no transcription batch is running")
)

// Transport is the progress-observable upload channel to the backend.
type Transport interface {
	Transcribe(ctx context.Context, req transport.UploadRequest) (transport.TranscribeResponse, error)
	Health(ctx context.Context) error
}

// Saver persists one transcript; implementations may write locally or
// delegate to the backend's save endpoint.
type Saver interface {
	Save(ctx context.Context, directory, filename, content string) error
}

const (
	// uploadBand is the share of per-file progress covered by the
	// upload itself; the rest is the processing animation.
	uploadBand = 30
	// processingCap is where the indeterminate animation parks until
	// the backend answers.
	processingCap = 95

	maxAttempts = 3

	defaultTickInterval   = 800 * time.Millisecond
	defaultRetryStep      = 1 * time.Second
	defaultRetryCap       = 3 * time.Second
	defaultInterFileDelay = 1 * time.Second
)

// Params configures one batch run.
type Params struct {
	OutputDir string
	Mode      string
	Language  string
}

// Queue owns the upload list and the batch state machine. All mutable
// state lives here, never in ambient globals; UI layers receive this
// object injected.
type Queue struct {
	mu       sync.Mutex
	files    []*domain.UploadFile
	state    domain.QueueState
	progress int

	transport Transport
	saver     Saver
	events    *EventBus
	log       zerolog.Logger

	tickInterval   time.Duration
	retryStep      time.Duration
	retryCap       time.Duration
	interFileDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration)
}

// Option tweaks queue timing, mainly for tests.
type Option func(*Queue)

// WithTiming overrides the animation tick, retry step/cap, and the
// pause between files.
func WithTiming(tick, retryStep, retryCap, interFile time.Duration) Option {
	return func(q *Queue) {
		q.tickInterval = tick
		q.retryStep = retryStep
		q.retryCap = retryCap
		q.interFileDelay = interFile
	}
}

// New builds an idle queue over the given transport and saver.
func New(t Transport, s Saver, opts ...Option) *Queue {
	q := &Queue{
		state:          domain.QueueStateIdle,
		transport:      t,
		saver:          s,
		events:         NewEventBus(1000),
		log:            applog.WithComponent("queue"),
		tickInterval:   defaultTickInterval,
		retryStep:      defaultRetryStep,
		retryCap:       defaultRetryCap,
		interFileDelay: defaultInterFileDelay,
		sleep:          sleepCtx,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Events exposes the bus for UI subscription.
func (q *Queue) Events() *EventBus {
	return q.events
}

// Add appends a pending file to the queue.
func (q *Queue) Add(file domain.UploadFile) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := file
	q.files = append(q.files, &entry)
}

// Remove drops a file by id. Files currently processing stay put.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, f := range q.files {
		if f.ID == id {
			if f.Status == domain.FileStatusProcessing {
				return false
			}
			q.files = append(q.files[:i], q.files[i+1:]...)
			return true
		}
	}
	return false
}

// Reset clears all files and returns the queue to idle. Ignored while
// a batch is draining.
func (q *Queue) Reset() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == domain.QueueStateProcessing {
		return false
	}
	q.files = nil
	q.state = domain.QueueStateIdle
	q.progress = 0
	return true
}

// Snapshot returns a copy of the queue and file state for the UI.
func (q *Queue) Snapshot() (domain.QueueState, int, []domain.UploadFile) {
	q.mu.Lock()
	defer q.mu.Unlock()
	files := make([]domain.UploadFile, 0, len(q.files))
	for _, f := range q.files {
		files = append(files, *f)
	}
	return q.state, q.progress, files
}

// Run drains the queue sequentially: strictly in list order, exactly
// one file processing at any instant, never aborting the batch on a
// single file's failure. Returns ErrBatchRunning when re-entered.
func (q *Queue) Run(ctx context.Context, params Params) error {
	q.mu.Lock()
	if q.state == domain.QueueStateProcessing {
		q.mu.Unlock()
		return ErrBatchRunning
	}

	work := make([]*domain.UploadFile, 0, len(q.files))
	for _, f := range q.files {
		if f.Path != "" && f.Status != domain.FileStatusCompleted {
			work = append(work, f)
		}
	}
	if len(work) == 0 {
		q.mu.Unlock()
		q.events.Publish(Event{
			Type:    EventTypeNotice,
			Title:   "Nenhum arquivo para transcrever",
			Message: "Adicione um arquivo local válido para iniciar a transcrição.",
		})
		return nil
	}

	q.state = domain.QueueStateProcessing
	q.progress = 0
	q.mu.Unlock()

	q.publishQueueState(domain.QueueStateProcessing)

	completed, failed := 0, 0
	for i, f := range work {
		q.processFile(ctx, f, params)
		if q.fileStatus(f) == domain.FileStatusCompleted {
			completed++
		} else {
			failed++
		}

		if i < len(work)-1 {
			// Breathe between uploads so the local backend is never
			// hit with back-to-back requests.
			q.sleep(ctx, q.interFileDelay)
		}
	}

	q.mu.Lock()
	q.state = domain.QueueStateCompleted
	q.progress = 100
	q.mu.Unlock()

	q.publishQueueState(domain.QueueStateCompleted)
	q.events.Publish(Event{
		Type:    EventTypeSummary,
		Title:   "Lote finalizado",
		Message: fmt.Sprintf("%d transcrito(s), %d com erro.", completed, failed),
	})
	return nil
}

// processFile runs upload attempts for one file until success, an
// HTTP-level verdict, or transport retry exhaustion.
func (q *Queue) processFile(ctx context.Context, f *domain.UploadFile, params Params) {
	q.setFileStatus(f, domain.FileStatusProcessing, 0)

	var lastTransportErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := q.uploadOnce(ctx, f, params)
		if err == nil {
			q.applyResponse(ctx, f, params, resp)
			return
		}

		lastTransportErr = err
		q.log.Warn().Err(err).Str("file", f.Name).Int("attempt", attempt).Msg("upload transport failure")

		if attempt == maxAttempts {
			break
		}

		// The probe only paces retries; its verdict shapes the final
		// user message, not the attempt count.
		probeErr := q.transport.Health(ctx)
		if probeErr != nil {
			q.log.Debug().Err(probeErr).Msg("health probe failed before retry")
		}

		backoff := time.Duration(attempt) * q.retryStep
		if backoff > q.retryCap {
			backoff = q.retryCap
		}
		q.sleep(ctx, backoff)
	}

	message := "Não foi possível conectar ao backend local. Verifique se ele está em execução."
	if probeErr := q.transport.Health(ctx); probeErr == nil && lastTransportErr != nil {
		message = fmt.Sprintf("Falha no envio do arquivo: %v", lastTransportErr)
	}

	q.failFile(f, "Backend inacessível", message, "")
}

// uploadOnce performs one transfer with the progress animation wired:
// raw upload progress maps onto the 0–30 band, then a ticker walks
// progress toward 95 while the server works.
func (q *Queue) uploadOnce(ctx context.Context, f *domain.UploadFile, params Params) (transport.TranscribeResponse, error) {
	tickCtx, stopTick := context.WithCancel(ctx)
	defer stopTick()

	resp, err := q.transport.Transcribe(ctx, transport.UploadRequest{
		Path:     f.Path,
		Filename: f.Name,
		Mode:     params.Mode,
		Language: params.Language,
		OnUploadProgress: func(fraction float64) {
			q.setFileProgress(f, int(fraction*uploadBand))
		},
		OnUploadComplete: func() {
			go q.animateProcessing(tickCtx, f)
		},
	})
	return resp, err
}

// animateProcessing bumps progress by one step per tick, capped, to
// approximate indeterminate server-side processing time.
func (q *Queue) animateProcessing(ctx context.Context, f *domain.UploadFile) {
	ticker := time.NewTicker(q.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			if f.Status == domain.FileStatusProcessing && f.Progress < processingCap {
				f.Progress++
				progress := f.Progress
				id := f.ID
				q.mu.Unlock()
				q.events.Publish(Event{Type: EventTypeProgress, FileID: id, Progress: progress})
				continue
			}
			q.mu.Unlock()
		}
	}
}

// applyResponse maps one backend verdict onto the file state and, on
// success, persists the transcript.
func (q *Queue) applyResponse(ctx context.Context, f *domain.UploadFile, params Params, resp transport.TranscribeResponse) {
	if !resp.OK {
		message := resp.Error
		if message == "" {
			message = "Falha ao transcrever o arquivo."
		}
		q.failFile(f, "Erro na transcrição", message, resp.Suggestion)
		return
	}

	text := norm.NFC.String(resp.Text)

	q.mu.Lock()
	f.Status = domain.FileStatusCompleted
	f.Progress = 100
	f.Transcript = text
	f.Error = ""
	f.Suggestion = ""
	q.mu.Unlock()
	q.events.Publish(Event{
		Type:       EventTypeFileStatus,
		FileID:     f.ID,
		FileStatus: domain.FileStatusCompleted,
		Progress:   100,
	})

	filename := domain.BaseName(f.Name) + ".txt"
	if err := q.saver.Save(ctx, params.OutputDir, filename, text); err != nil {
		// A failed write never demotes a completed transcription.
		q.events.Publish(Event{
			Type:    EventTypeNotice,
			FileID:  f.ID,
			Title:   fmt.Sprintf("Falha ao salvar %s", filename),
			Message: err.Error(),
		})
		return
	}

	q.events.Publish(Event{
		Type:    EventTypeNotice,
		FileID:  f.ID,
		Title:   "Transcrição concluída",
		Message: fmt.Sprintf("Arquivo %s gerado com sucesso.", filename),
	})
}

func (q *Queue) failFile(f *domain.UploadFile, title, message, suggestion string) {
	q.mu.Lock()
	f.Status = domain.FileStatusError
	f.Error = message
	f.Suggestion = suggestion
	q.mu.Unlock()
	q.events.Publish(Event{
		Type:       EventTypeFileStatus,
		FileID:     f.ID,
		FileStatus: domain.FileStatusError,
		Title:      title,
		Message:    message,
		Suggestion: suggestion,
	})
}

func (q *Queue) setFileStatus(f *domain.UploadFile, status domain.FileStatus, progress int) {
	q.mu.Lock()
	f.Status = status
	f.Progress = progress
	q.mu.Unlock()
	q.events.Publish(Event{
		Type:       EventTypeFileStatus,
		FileID:     f.ID,
		FileStatus: status,
		Progress:   progress,
	})
}

// setFileProgress keeps per-file progress monotonic while processing.
func (q *Queue) setFileProgress(f *domain.UploadFile, progress int) {
	q.mu.Lock()
	if f.Status != domain.FileStatusProcessing || progress <= f.Progress {
		q.mu.Unlock()
		return
	}
	f.Progress = progress
	id := f.ID
	q.mu.Unlock()
	q.events.Publish(Event{Type: EventTypeProgress, FileID: id, Progress: progress})
}

func (q *Queue) fileStatus(f *domain.UploadFile) domain.FileStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return f.Status
}

func (q *Queue) publishQueueState(state domain.QueueState) {
	q.events.Publish(Event{Type: EventTypeQueueState, QueueState: state})
}
