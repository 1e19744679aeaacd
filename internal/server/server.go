package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/clipboard"
	"github.com/tsuji-lab/gaq/internal/model"
	"github.com/tsuji-lab/gaq/internal/transcriber"
)

type Config struct {
	Service   *transcriber.Service
	Assets    *model.Manager
	UploadDir string
	Version   string
	Logger    *zap.Logger
}

// Server is the local HTTP surface the desktop client talks to. All routes
// are served on loopback; progress is pushed over server-sent events.
type Server struct {
	echo      *echo.Echo
	service   *transcriber.Service
	assets    *model.Manager
	uploadDir string
	version   string
	logger    *zap.Logger

	copyFn func(context.Context, string) error
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		service:   cfg.Service,
		assets:    cfg.Assets,
		uploadDir: cfg.UploadDir,
		version:   cfg.Version,
		logger:    cfg.Logger,
		copyFn:    clipboard.CopyText,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/models", s.handleListModels)
	e.GET("/check-model/:name", s.handleCheckModel)
	e.DELETE("/models/:name", s.handleDeleteModel)
	e.POST("/transcribe-stream", s.handleTranscribeStream)
	e.GET("/last-transcription", s.handleLastTranscription)
	e.POST("/save-transcription", s.handleSaveTranscription)
	e.POST("/copy-result", s.handleCopyResult)

	return s
}

// Handler exposes the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
