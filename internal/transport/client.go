// Package transport is the client side of the local backend protocol:
// multipart uploads with byte-level progress, the liveness probe used
// for retry pacing, and the remote transcript save call.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaseURL matches the backend's default bind address. Explicit
// IPv4 avoids localhost/IPv6 resolution surprises on Windows.
const DefaultBaseURL = "http://127.0.0.1:3001"

// defaultProbeTimeout bounds the health probe; it only paces retries
// and must never hold the queue for long.
const defaultProbeTimeout = 1500 * time.Millisecond

// UploadRequest describes one media upload to /transcribe.
type UploadRequest struct {
	Path     string // local media file
	Filename string // original display name sent to the backend
	Mode     string
	Language string

	// OnUploadProgress receives the fraction (0..1) of payload bytes
	// handed to the HTTP transport.
	OnUploadProgress func(fraction float64)
	// OnUploadComplete fires once the request body is fully streamed
	// and the client is waiting on the server.
	OnUploadComplete func()
}

// TranscribeResponse is the parsed backend reply. A non-nil error from
// Transcribe means the transport itself failed (connection refused,
// reset); HTTP-level failures come back inside the response instead.
type TranscribeResponse struct {
	OK         bool   `json:"ok"`
	Text       string `json:"text"`
	Language   string `json:"language"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion"`
	Code       string `json:"code"`
	Details    string `json:"details"`

	StatusCode int `json:"-"`
}

// SaveResponse is the parsed reply of /save-transcription.
type SaveResponse struct {
	OK       bool   `json:"ok"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Client talks to the local backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	probeTimeout time.Duration
}

// NewClient builds a client for the given backend base URL.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSpace(strings.TrimSuffix(baseURL, "/"))
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{},
		probeTimeout: defaultProbeTimeout,
	}
}

// progressReader counts payload bytes as the HTTP transport drains them.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	callback func(fraction float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 && p.callback != nil {
		p.read += int64(n)
		fraction := float64(p.read) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		p.callback(fraction)
	}
	return n, err
}

// Transcribe uploads one file and returns the backend's verdict. The
// multipart body is streamed through a pipe so large media never sits
// in memory.
func (c *Client) Transcribe(ctx context.Context, req UploadRequest) (TranscribeResponse, error) {
	file, err := os.Open(req.Path)
	if err != nil {
		return TranscribeResponse{}, fmt.Errorf("open media file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return TranscribeResponse{}, fmt.Errorf("stat media file: %w", err)
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.Path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := c.writeMultipart(mw, file, info.Size(), filename, req)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
		if req.OnUploadComplete != nil {
			req.OnUploadComplete()
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", pr)
	if err != nil {
		return TranscribeResponse{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TranscribeResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed TranscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		parsed = TranscribeResponse{Error: fmt.Sprintf("invalid response from backend (status %d)", resp.StatusCode)}
	}
	parsed.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		parsed.OK = false
		if parsed.Error == "" {
			parsed.Error = fmt.Sprintf("backend returned status %d", resp.StatusCode)
		}
	}
	return parsed, nil
}

func (c *Client) writeMultipart(mw *multipart.Writer, file io.Reader, size int64, filename string, req UploadRequest) error {
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	counted := &progressReader{r: file, total: size, callback: req.OnUploadProgress}
	if _, err := io.Copy(fw, counted); err != nil {
		return err
	}
	if req.Mode != "" {
		if err := mw.WriteField("mode", req.Mode); err != nil {
			return err
		}
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return err
		}
	}
	return mw.Close()
}

// Health probes backend liveness with a short deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// SaveTranscription asks the backend to persist a transcript file.
func (c *Client) SaveTranscription(ctx context.Context, directory, filename, content string) (SaveResponse, error) {
	body, err := json.Marshal(map[string]string{
		"directory": directory,
		"filename":  filename,
		"content":   content,
	})
	if err != nil {
		return SaveResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save-transcription", strings.NewReader(string(body)))
	if err != nil {
		return SaveResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SaveResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed SaveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SaveResponse{}, fmt.Errorf("invalid save response (status %d)", resp.StatusCode)
	}
	return parsed, nil
}
