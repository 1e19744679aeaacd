package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/clipboard"
	"github.com/tsuji-lab/gaq/internal/model"
	"github.com/tsuji-lab/gaq/internal/progress"
	"github.com/tsuji-lab/gaq/internal/transcriber"
)

const pollInterval = 200 * time.Millisecond

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

type modelEntry struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	SizeGB      float64 `json:"size_gb"`
	Exists      bool    `json:"exists"`
	Deletable   bool    `json:"deletable"`
}

func (s *Server) handleListModels(c echo.Context) error {
	entries := make([]modelEntry, 0, len(model.Names()))
	for _, name := range model.Names() {
		spec, _ := model.Lookup(name)
		status := s.assets.Exists(name)
		entries = append(entries, modelEntry{
			Name:        name,
			DisplayName: spec.DisplayName,
			SizeGB:      status.SizeGB,
			Exists:      status.Exists,
			Deletable:   spec.Deletable,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"models": entries})
}

func (s *Server) handleCheckModel(c echo.Context) error {
	name := c.Param("name")
	if !model.Allowed(name) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown model: %s", name)})
	}

	status := s.assets.Exists(name)
	response := map[string]any{
		"exists":  status.Exists,
		"size_gb": status.SizeGB,
		"path":    status.Path,
	}
	if status.Exists {
		response["valid"] = s.assets.VerifyIntegrity(name).Valid
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) handleDeleteModel(c echo.Context) error {
	message, err := s.assets.Delete(c.Param("name"))
	switch {
	case errors.Is(err, model.ErrDeleteDefault):
		return c.JSON(http.StatusForbidden, map[string]any{"success": false, "message": "the default model cannot be deleted"})
	case errors.Is(err, model.ErrNotCached):
		return c.JSON(http.StatusNotFound, map[string]any{"success": false, "message": "model not found"})
	case err != nil:
		s.logger.Error("model delete failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": message})
}

// handleTranscribeStream accepts the upload, starts the job on a worker
// goroutine, and relays progress as server-sent events until the terminal
// event. Validation failures produce a single terminal event on the same
// stream so the client has one code path.
func (s *Server) handleTranscribeStream(c echo.Context) error {
	bridge := progress.NewBridge(s.logger)

	uploadPath, modelName, language, err := s.acceptUpload(c)
	if err != nil {
		bridge.Fail(err.Error())
	} else {
		go func() {
			defer func() {
				if err := os.Remove(uploadPath); err != nil {
					s.logger.Warn("failed to remove upload", zap.String("path", uploadPath), zap.Error(err))
				}
			}()
			// The job deliberately outlives the request context: closing the
			// browser tab must not abort a running transcription.
			_, _ = s.service.Transcribe(context.Background(), uploadPath, modelName, language, bridge)
		}()
	}

	return s.streamEvents(c, bridge)
}

// acceptUpload validates the request and stores the uploaded file under a
// fresh random name, keeping only the original extension.
func (s *Server) acceptUpload(c echo.Context) (uploadPath, modelName, language string, err error) {
	modelName = c.FormValue("model")
	if modelName == "" {
		modelName = model.DefaultModel
	}
	language = c.FormValue("language")
	if language == "" {
		language = "ja"
	}

	header, err := c.FormFile("file")
	if err != nil {
		return "", "", "", &transcriber.ValidationError{Message: "no file uploaded"}
	}

	if err := transcriber.ValidateUpload(header.Filename, modelName); err != nil {
		return "", "", "", err
	}

	src, err := header.Open()
	if err != nil {
		return "", "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	uploadPath = filepath.Join(s.uploadDir, uuid.NewString()+ext)

	dst, err := os.Create(uploadPath)
	if err != nil {
		return "", "", "", fmt.Errorf("store upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(uploadPath)
		return "", "", "", fmt.Errorf("store upload: %w", err)
	}

	s.logger.Info("upload accepted",
		zap.String("file", header.Filename),
		zap.String("stored_as", filepath.Base(uploadPath)),
		zap.String("model", modelName))
	return uploadPath, modelName, language, nil
}

func (s *Server) streamEvents(c echo.Context, bridge *progress.Bridge) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	clientGone := c.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			s.logger.Debug("client disconnected from progress stream")
			return nil
		default:
		}

		event, ok := bridge.Poll(pollInterval)
		if !ok {
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to encode progress event", zap.Error(err))
			return nil
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			return nil
		}
		resp.Flush()

		if event.Terminal() {
			return nil
		}
	}
}

func (s *Server) handleLastTranscription(c echo.Context) error {
	result := s.service.LastResult()
	if result == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcription available"})
	}
	return c.JSON(http.StatusOK, result)
}

type saveRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSaveTranscription(c echo.Context) error {
	result := s.service.LastResult()
	if result == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcription available"})
	}

	var req saveRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "target path is required"})
	}

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if err := os.WriteFile(req.Path, []byte(ExportText(result)), 0o644); err != nil {
		s.logger.Error("failed to save transcription", zap.String("path", req.Path), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.logger.Info("transcription saved", zap.String("path", req.Path), zap.Int("chars", result.CharCount))
	return c.JSON(http.StatusOK, map[string]any{"success": true, "path": req.Path})
}

func (s *Server) handleCopyResult(c echo.Context) error {
	result := s.service.LastResult()
	if result == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcription available"})
	}

	if err := s.copyFn(c.Request().Context(), result.Text); err != nil {
		if errors.Is(err, clipboard.ErrUnavailable) {
			return c.JSON(http.StatusNotImplemented, map[string]any{"success": false, "message": "no clipboard command available"})
		}
		s.logger.Warn("clipboard copy failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
