package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcritor/internal/domain"
	"transcritor/internal/transport"
)

// fakeTransport scripts per-call behavior and records upload order.
type fakeTransport struct {
	mu        sync.Mutex
	uploads   []string // filenames in upload order
	probes    int
	healthErr error
	respond   func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error)
}

func (f *fakeTransport) Transcribe(ctx context.Context, req transport.UploadRequest) (transport.TranscribeResponse, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, req.Filename)
	call := len(f.uploads)
	f.mu.Unlock()

	if req.OnUploadProgress != nil {
		req.OnUploadProgress(0.5)
		req.OnUploadProgress(1.0)
	}
	if req.OnUploadComplete != nil {
		req.OnUploadComplete()
	}
	return f.respond(call, req)
}

func (f *fakeTransport) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.healthErr
}

func (f *fakeTransport) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// fakeSaver records save calls and optionally fails.
type fakeSaver struct {
	mu    sync.Mutex
	saves []string // "dir|filename|content"
	err   error
}

func (f *fakeSaver) Save(ctx context.Context, directory, filename, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, directory+"|"+filename+"|"+content)
	return f.err
}

func fastTiming() Option {
	return WithTiming(time.Millisecond, time.Millisecond, 3*time.Millisecond, 0)
}

func newTestQueue(t *fakeTransport, s *fakeSaver) *Queue {
	return New(t, s, fastTiming())
}

func okResponse(text string) (transport.TranscribeResponse, error) {
	return transport.TranscribeResponse{OK: true, Text: text, Language: "pt", StatusCode: 200}, nil
}

func addFiles(q *Queue, names ...string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		f := domain.NewUploadFile("/media/"+name, 100)
		q.Add(f)
		ids = append(ids, f.ID)
	}
	return ids
}

func TestRunProcessesAllFilesInOrder(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return okResponse("texto " + req.Filename)
		},
	}
	saver := &fakeSaver{}
	q := newTestQueue(tr, saver)
	addFiles(q, "a.mp4", "b.mp3", "c.wav")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out", Mode: "balanced", Language: "pt"}))

	assert.Equal(t, []string{"a.mp4", "b.mp3", "c.wav"}, tr.uploads)

	state, progress, files := q.Snapshot()
	assert.Equal(t, domain.QueueStateCompleted, state)
	assert.Equal(t, 100, progress)
	for _, f := range files {
		assert.Equal(t, domain.FileStatusCompleted, f.Status)
		assert.Equal(t, 100, f.Progress)
	}

	require.Len(t, saver.saves, 3)
	assert.Equal(t, "/out|a.txt|texto a.mp4", saver.saves[0])
	assert.Equal(t, "/out|b.txt|texto b.mp3", saver.saves[1])
	assert.Equal(t, "/out|c.txt|texto c.wav", saver.saves[2])
}

func TestRunStatusTransitionsNeverSkipProcessing(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return okResponse("x")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	ids := addFiles(q, "a.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	var transitions []domain.FileStatus
	for _, ev := range q.Events().Since(0) {
		if ev.Type == EventTypeFileStatus && ev.FileID == ids[0] {
			transitions = append(transitions, ev.FileStatus)
		}
	}
	require.GreaterOrEqual(t, len(transitions), 2)
	assert.Equal(t, domain.FileStatusProcessing, transitions[0])
	assert.Equal(t, domain.FileStatusCompleted, transitions[len(transitions)-1])
}

func TestRunRetriesTransportFailuresThreeTimes(t *testing.T) {
	tr := &fakeTransport{
		healthErr: errors.New("connection refused"),
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return transport.TranscribeResponse{}, errors.New("connection refused")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	addFiles(q, "a.mp4", "b.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	// Exactly 3 attempts per file, and the batch still reached file b.
	assert.Equal(t, 6, tr.uploadCount())

	_, _, files := q.Snapshot()
	for _, f := range files {
		assert.Equal(t, domain.FileStatusError, f.Status)
		assert.Contains(t, f.Error, "backend")
	}
}

func TestRunHTTPErrorIsNotRetried(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return transport.TranscribeResponse{
				OK:         false,
				Error:      "invalid data found when processing input",
				Suggestion: "reencode para MP4",
				Code:       "UNSUPPORTED_MEDIA",
				StatusCode: 400,
			}, nil
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	addFiles(q, "ruim.mp4", "bom.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	assert.Equal(t, 2, tr.uploadCount(), "HTTP-level failures must consume exactly one attempt")

	_, _, files := q.Snapshot()
	assert.Equal(t, domain.FileStatusError, files[0].Status)
	assert.Equal(t, "invalid data found when processing input", files[0].Error)
	assert.Equal(t, "reencode para MP4", files[0].Suggestion)
}

func TestRunRecoversAfterTransientTransportFailure(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			if call == 1 {
				return transport.TranscribeResponse{}, errors.New("connection reset")
			}
			return okResponse("depois do retry")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	addFiles(q, "a.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	assert.Equal(t, 2, tr.uploadCount())
	assert.GreaterOrEqual(t, tr.probes, 1, "each retry must be preceded by a health probe")

	_, _, files := q.Snapshot()
	assert.Equal(t, domain.FileStatusCompleted, files[0].Status)
}

func TestRunNormalizesTextAndSavesWithBaseName(t *testing.T) {
	// "é" as e + combining acute; NFC folds it to a single rune.
	decomposed := "transcrição é"
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return okResponse(decomposed)
		},
	}
	saver := &fakeSaver{}
	q := newTestQueue(tr, saver)
	addFiles(q, "reuniao.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	require.Len(t, saver.saves, 1)
	assert.Contains(t, saver.saves[0], "/out|reuniao.txt|")
	assert.Contains(t, saver.saves[0], "transcrição é")
}

func TestRunSaveFailureKeepsFileCompleted(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return okResponse("texto")
		},
	}
	saver := &fakeSaver{err: errors.New("permission denied")}
	q := newTestQueue(tr, saver)
	addFiles(q, "a.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	_, _, files := q.Snapshot()
	assert.Equal(t, domain.FileStatusCompleted, files[0].Status)

	var sawFailureNotice bool
	for _, ev := range q.Events().Since(0) {
		if ev.Type == EventTypeNotice && ev.Message == "permission denied" {
			sawFailureNotice = true
		}
	}
	assert.True(t, sawFailureNotice)
}

func TestRunEmptyWorkListStaysIdle(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			t.Fatal("no upload expected")
			return transport.TranscribeResponse{}, nil
		},
	}
	q := newTestQueue(tr, &fakeSaver{})

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	state, _, _ := q.Snapshot()
	assert.Equal(t, domain.QueueStateIdle, state)

	events := q.Events().Since(0)
	require.NotEmpty(t, events)
	assert.Equal(t, EventTypeNotice, events[0].Type)
}

func TestRunSkipsAlreadyCompletedFiles(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			return okResponse("x")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	done := domain.NewUploadFile("/media/done.mp4", 1)
	done.Status = domain.FileStatusCompleted
	q.Add(done)
	addFiles(q, "novo.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	assert.Equal(t, []string{"novo.mp4"}, tr.uploads)
}

func TestRunReentrancyGuard(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			<-release
			return okResponse("x")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	addFiles(q, "a.mp4")

	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background(), Params{OutputDir: "/out"}) }()

	require.Eventually(t, func() bool {
		state, _, _ := q.Snapshot()
		return state == domain.QueueStateProcessing
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, q.Run(context.Background(), Params{OutputDir: "/out"}), ErrBatchRunning)

	close(release)
	require.NoError(t, <-done)

	// A finished queue accepts a new batch again.
	_, _, files := q.Snapshot()
	require.NotEmpty(t, files)
}

func TestRemoveAndReset(t *testing.T) {
	q := newTestQueue(&fakeTransport{respond: func(int, transport.UploadRequest) (transport.TranscribeResponse, error) {
		return okResponse("x")
	}}, &fakeSaver{})
	ids := addFiles(q, "a.mp4", "b.mp4")

	assert.True(t, q.Remove(ids[0]))
	assert.False(t, q.Remove("nope"))

	_, _, files := q.Snapshot()
	require.Len(t, files, 1)
	assert.Equal(t, "b.mp4", files[0].Name)

	assert.True(t, q.Reset())
	_, _, files = q.Snapshot()
	assert.Empty(t, files)
}

func TestBatchSummaryCountsOutcomes(t *testing.T) {
	tr := &fakeTransport{
		respond: func(call int, req transport.UploadRequest) (transport.TranscribeResponse, error) {
			if req.Filename == "ruim.mp4" {
				return transport.TranscribeResponse{OK: false, Error: "falha", StatusCode: 500}, nil
			}
			return okResponse("x")
		},
	}
	q := newTestQueue(tr, &fakeSaver{})
	addFiles(q, "a.mp4", "ruim.mp4", "c.mp4")

	require.NoError(t, q.Run(context.Background(), Params{OutputDir: "/out"}))

	events := q.Events().Since(0)
	last := events[len(events)-1]
	assert.Equal(t, EventTypeSummary, last.Type)
	assert.Equal(t, fmt.Sprintf("%d transcrito(s), %d com erro.", 2, 1), last.Message)
}
