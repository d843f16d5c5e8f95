package bootstrap

import (
	"context"
	"errors"
	"sync"

	"transcritor/internal/transport"
)

// backendLink adapts the HTTP client to the queue's transport and saver
// interfaces. The queue holds the link for its whole lifetime; the link
// swaps the underlying client when settings change the backend URL.
type backendLink struct {
	mu     sync.Mutex
	client *transport.Client
}

func newBackendLink(baseURL string) *backendLink {
	return &backendLink{client: transport.NewClient(baseURL)}
}

// SetBaseURL repoints the link at a different backend.
func (l *backendLink) SetBaseURL(baseURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = transport.NewClient(baseURL)
}

func (l *backendLink) current() *transport.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func (l *backendLink) Transcribe(ctx context.Context, req transport.UploadRequest) (transport.TranscribeResponse, error) {
	return l.current().Transcribe(ctx, req)
}

func (l *backendLink) Health(ctx context.Context) error {
	return l.current().Health(ctx)
}

// Save persists a transcript through the backend's save endpoint.
func (l *backendLink) Save(ctx context.Context, directory, filename, content string) error {
	resp, err := l.current().SaveTranscription(ctx, directory, filename, content)
	if err != nil {
		return err
	}
	if !resp.OK {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return errors.New("save rejected by backend")
	}
	return nil
}
