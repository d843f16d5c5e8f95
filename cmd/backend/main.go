// Command backend runs the transcription HTTP service standalone, for
// development against a frontend dev server or for headless use.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"transcritor/internal/config"
	"transcritor/internal/engine"
	applog "transcritor/internal/log"
	"transcritor/internal/output"
	"transcritor/internal/server"
)

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	cfg := config.BackendFromEnv()
	applog.Configure(applog.Config{Level: cfg.LogLevel})
	logger := applog.WithComponent("backend")

	srv := server.New(server.Config{
		ScriptPath: cfg.ScriptPath,
		UploadDir:  cfg.UploadDir,
	}, engine.New(cfg.ScriptPath, cfg.PythonPath), output.NewWriter())

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("script", cfg.ScriptPath).
			Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	}
}
