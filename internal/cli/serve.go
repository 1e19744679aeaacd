package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/engine"
	"github.com/tsuji-lab/gaq/internal/lifecycle"
	"github.com/tsuji-lab/gaq/internal/model"
	"github.com/tsuji-lab/gaq/internal/platform"
	"github.com/tsuji-lab/gaq/internal/server"
	"github.com/tsuji-lab/gaq/internal/transcriber"
	"github.com/tsuji-lab/gaq/internal/version"
)

func newServeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local transcription server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}
}

func (a *appState) runServe(ctx context.Context) error {
	lockPath := a.lockPath
	if lockPath == "" {
		lockPath = platform.LockFilePath()
	}

	lock := lifecycle.NewInstanceLock(lockPath, a.log())
	ok, err := lock.Acquire()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		// Not an error: the user just started a second copy.
		fmt.Fprintln(a.outWriter(), "gaq is already running; close the other instance first")
		return nil
	}
	defer lock.Release()

	srv, err := a.buildServer()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(a.addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		a.log().Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.log().Info("context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log().Warn("server shutdown incomplete", zap.Error(err))
		return err
	}

	a.log().Info("server stopped")
	return nil
}

func (a *appState) buildServer() (*server.Server, error) {
	cacheDir, err := platform.ResolveModelCacheDir(a.cacheDir)
	if err != nil {
		return nil, err
	}
	uploadDir, err := platform.ResolveUploadDir(a.uploadDir)
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewHelperEngine(a.log())
	if err != nil {
		return nil, err
	}

	assets := model.NewManager(cacheDir, a.log())
	service := transcriber.NewService(transcriber.Config{
		Engine:      eng,
		Assets:      assets,
		CacheDir:    cacheDir,
		FallbackDir: platform.FallbackModelDir(cacheDir),
		Logger:      a.log(),
	})

	a.log().Info("transcription service ready",
		zap.String("cache_dir", cacheDir),
		zap.String("upload_dir", uploadDir),
		zap.String("addr", a.addr))

	return server.New(server.Config{
		Service:   service,
		Assets:    assets,
		UploadDir: uploadDir,
		Version:   version.Resolve(),
		Logger:    a.log(),
	}), nil
}
