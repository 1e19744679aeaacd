package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/logging"
	"github.com/tsuji-lab/gaq/internal/platform"
	"github.com/tsuji-lab/gaq/internal/version"
)

type appState struct {
	verbose   bool
	jsonLogs  bool
	logFile   string
	addr      string
	cacheDir  string
	uploadDir string
	lockPath  string

	logger *zap.Logger
	out    io.Writer
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		addr: "127.0.0.1:8736",
		out:  os.Stdout,
	}

	cmd := &cobra.Command{
		Use:           "gaq",
		Short:         "Local speech transcription service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if app.logFile == "" {
				if dir, err := platform.LogDir(); err == nil {
					app.logFile = filepath.Join(dir, "gaq.log")
				}
			}
			logger, err := logging.New(logging.Options{
				Verbose: app.verbose,
				JSON:    app.jsonLogs,
				File:    app.logFile,
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindServerFlags(cmd, app)
	bindStorageFlags(cmd, app)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	cmd.PersistentFlags().StringVar(&app.logFile, "log-file", app.logFile, "Log file path (defaults to the app data directory)")
}

func bindServerFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.addr, "addr", app.addr, "Listen address for the local server")
	cmd.PersistentFlags().StringVar(&app.lockPath, "lock-file", app.lockPath, "Single-instance lock file path")
}

func bindStorageFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.cacheDir, "cache-dir", app.cacheDir, "Model cache directory (defaults to the shared hub cache)")
	cmd.PersistentFlags().StringVar(&app.uploadDir, "upload-dir", app.uploadDir, "Directory for uploaded files")
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}
