package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"transcritor/internal/config"
	"transcritor/internal/diagnostics"
	"transcritor/internal/domain"
	"transcritor/internal/engine"
	applog "transcritor/internal/log"
	"transcritor/internal/output"
	"transcritor/internal/queue"
	"transcritor/internal/server"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Arquivos de mídia",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.opus",
	},
	{
		DisplayName: "Todos os arquivos",
		Pattern:     "*",
	},
}

// shutdownGrace bounds how long the embedded backend gets to drain
// in-flight transcriptions on exit.
const shutdownGrace = 5 * time.Second

// App wires configuration, the upload queue, the embedded backend, and
// UI runtime callbacks.
type App struct {
	Store       config.Store
	Queue       *queue.Queue
	Diagnostics domain.DiagnosticReport

	assets     fs.FS
	checker    *diagnostics.Checker
	link       *backendLink
	backendCfg config.Backend
	log        zerolog.Logger

	mu          sync.Mutex
	settings    domain.Settings
	runtimeCtx  context.Context
	batchCancel context.CancelFunc
	backend     *http.Server
}

// QueueSnapshot is the queue view handed to the frontend on demand.
type QueueSnapshot struct {
	State    domain.QueueState   `json:"state"`
	Progress int                 `json:"progress"`
	Files    []domain.UploadFile `json:"files"`
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".transcritor", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	backendCfg := config.BackendFromEnv()
	applog.Configure(applog.Config{Level: backendCfg.LogLevel})

	checker := diagnostics.NewChecker(backendCfg.PythonPath, backendCfg.ScriptPath)
	report := checker.Run(settings)

	link := newBackendLink(settings.BackendURL)
	app := &App{
		Store:       store,
		Queue:       queue.New(link, link),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		link:        link,
		backendCfg:  backendCfg,
		log:         applog.WithComponent("app"),
		settings:    settings,
	}

	app.Queue.Events().SetNotify(app.emitQueueEvent)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Transcritor",
		Width:       1100,
		Height:      760,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and boots the embedded backend.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	a.startBackend()
}

// Shutdown drains the embedded backend and drops the runtime context.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	backend := a.backend
	cancel := a.batchCancel
	a.backend = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if backend != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		if err := backend.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("backend shutdown")
		}
	}
}

// startBackend launches the in-process transcription HTTP server. The
// desktop shell talks to it over loopback exactly like an external
// backend would be talked to.
func (a *App) startBackend() {
	eng := engine.New(a.backendCfg.ScriptPath, a.backendCfg.PythonPath)
	srv := server.New(server.Config{
		ScriptPath: a.backendCfg.ScriptPath,
		UploadDir:  a.backendCfg.UploadDir,
	}, eng, output.NewWriter())

	httpSrv := &http.Server{
		Addr:              a.backendCfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.backend = httpSrv
	a.mu.Unlock()

	go func() {
		a.log.Info().Str("addr", httpSrv.Addr).Msg("embedded backend listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("embedded backend stopped")
		}
	}()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(settings)

	a.mu.Lock()
	a.settings = settings
	a.Diagnostics = report
	a.mu.Unlock()

	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics
// and repoints the backend client.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.link.SetBaseURL(normalized.BackendURL)

	a.mu.Lock()
	a.settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickMediaFiles opens a native multi-select dialog and queues the choices.
func (a *App) PickMediaFiles() ([]domain.UploadFile, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Selecione os arquivos de mídia",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	return a.AddFiles(paths)
}

// AddFiles stats each path and appends the valid ones to the queue.
// Unreadable paths and directories are skipped rather than failing the
// whole selection.
func (a *App) AddFiles(paths []string) ([]domain.UploadFile, error) {
	var added []domain.UploadFile
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			a.log.Warn().Str("path", path).Err(err).Msg("skipping unreadable file")
			continue
		}
		if info.IsDir() {
			continue
		}

		file := domain.NewUploadFile(path, info.Size())
		a.Queue.Add(file)
		added = append(added, file)
	}
	return added, nil
}

// RemoveFile drops one pending file from the queue.
func (a *App) RemoveFile(id string) bool {
	return a.Queue.Remove(id)
}

// ResetQueue clears the queue when no batch is running.
func (a *App) ResetQueue() bool {
	return a.Queue.Reset()
}

// GetQueue returns the current queue view.
func (a *App) GetQueue() QueueSnapshot {
	state, progress, files := a.Queue.Snapshot()
	return QueueSnapshot{State: state, Progress: progress, Files: files}
}

// QueueEvents returns all queue events with sequence greater than sinceSeq.
func (a *App) QueueEvents(sinceSeq int64) []queue.Event {
	return a.Queue.Events().Since(sinceSeq)
}

// StartBatch kicks off sequential processing of the queued files.
func (a *App) StartBatch() error {
	settings, err := a.Store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	if a.batchCancel != nil {
		a.mu.Unlock()
		return queue.ErrBatchRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.batchCancel = cancel
	a.settings = settings
	a.mu.Unlock()

	params := queue.Params{
		OutputDir: settings.OutputDir,
		Mode:      settings.Mode,
		Language:  settings.Language,
	}

	go func() {
		defer a.clearBatch(cancel)
		if err := a.Queue.Run(ctx, params); err != nil && !errors.Is(err, queue.ErrBatchRunning) {
			a.log.Error().Err(err).Msg("batch run")
		}
	}()
	return nil
}

// CancelBatch interrupts the running batch, if any.
func (a *App) CancelBatch() error {
	a.mu.Lock()
	cancel := a.batchCancel
	a.mu.Unlock()

	if cancel == nil {
		return queue.ErrNoBatchRunning
	}
	cancel()
	return nil
}

// PickOutputDirectory opens a native directory picker for transcript exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Selecione a pasta de destino",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// CheckBackend probes the backend health endpoint.
func (a *App) CheckBackend() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.link.Health(ctx)
}

// emitQueueEvent pushes a queue event to the frontend over the Wails bus.
func (a *App) emitQueueEvent(event queue.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "queue:event", event)
	}
}

// clearBatch releases the cancellation handle once a batch drains.
func (a *App) clearBatch(cancel context.CancelFunc) {
	cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.batchCancel != nil {
		a.batchCancel = nil
	}
}

// runtimeContext returns the current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies defaults where empty.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.BackendURL = strings.TrimSpace(settings.BackendURL)
	settings.Mode = strings.TrimSpace(settings.Mode)
	settings.Language = strings.TrimSpace(settings.Language)
	if settings.BackendURL == "" {
		settings.BackendURL = config.DefaultBackendURL
	}
	if settings.Mode == "" {
		settings.Mode = config.DefaultMode
	}
	if settings.Language == "" {
		settings.Language = config.DefaultLanguage
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
