package transcriber

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/download"
	"github.com/tsuji-lab/gaq/internal/engine"
	"github.com/tsuji-lab/gaq/internal/format"
	"github.com/tsuji-lab/gaq/internal/model"
	"github.com/tsuji-lab/gaq/internal/progress"
)

// AllowedExtensions is the upload allow-list. Anything else is rejected
// before a job starts.
var AllowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".mp4":  true,
}

// Result is the outcome of one completed job. It doubles as the payload of
// the terminal progress event and the "last result" kept for export.
type Result struct {
	Success          bool             `json:"success"`
	Text             string           `json:"text"`
	Segments         []engine.Segment `json:"segments"`
	ElapsedSec       float64          `json:"elapsed_sec"`
	DetectedLanguage string           `json:"language"`
	CharCount        int              `json:"char_count"`
	SegmentCount     int              `json:"segment_count"`
	Model            string           `json:"model"`
}

// ValidateUpload rejects unsupported file extensions and unknown model names
// before any worker is started.
func ValidateUpload(filename, modelName string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedExtensions[ext] {
		return &ValidationError{Message: fmt.Sprintf("unsupported file format: %s", ext)}
	}
	if !model.Allowed(modelName) {
		return &ValidationError{Message: fmt.Sprintf("unknown model: %s", modelName)}
	}
	return nil
}

type Config struct {
	Engine      engine.Engine
	Assets      *model.Manager
	CacheDir    string
	FallbackDir string
	// DownloadBaseURL overrides the model repository endpoint.
	DownloadBaseURL string
	// DownloadFn overrides the snapshot fetcher.
	DownloadFn func(context.Context, download.Options) (string, error)
	Logger     *zap.Logger
}

// Service drives one transcription job end to end: input validation, model
// readiness with repair and download retries, inference, progress, and
// formatting. The loaded-model handle and the last result are process-wide
// state owned exclusively by the service; the job mutex keeps at most one
// job active.
type Service struct {
	engine      engine.Engine
	assets      *model.Manager
	cacheDir    string
	fallbackDir string
	baseURL     string
	downloadFn  func(context.Context, download.Options) (string, error)
	logger      *zap.Logger

	jobMu sync.Mutex

	stateMu    sync.Mutex
	loaded     *loadedModel
	lastResult *Result
}

type loadedModel struct {
	name string
	dir  string
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DownloadFn == nil {
		cfg.DownloadFn = download.Snapshot
	}
	if cfg.Assets == nil {
		cfg.Assets = model.NewManager(cfg.CacheDir, cfg.Logger)
	}
	return &Service{
		engine:      cfg.Engine,
		assets:      cfg.Assets,
		cacheDir:    cfg.CacheDir,
		fallbackDir: cfg.FallbackDir,
		baseURL:     cfg.DownloadBaseURL,
		downloadFn:  cfg.DownloadFn,
		logger:      cfg.Logger,
	}
}

// LastResult returns the most recent completed result, or nil when no job
// has finished yet.
func (s *Service) LastResult() *Result {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastResult
}

// Transcribe runs one job to completion, emitting progress on bridge. The
// terminal event always reaches the bridge: a result on success, a
// classified user-facing message on failure. A second concurrent call is
// rejected with ErrJobAlreadyRunning without blocking.
func (s *Service) Transcribe(ctx context.Context, audioPath, modelName, language string, bridge *progress.Bridge) (*Result, error) {
	if err := ValidateUpload(filepath.Base(audioPath), modelName); err != nil {
		bridge.Fail(err.Error())
		return nil, err
	}

	if !s.jobMu.TryLock() {
		bridge.Fail(ErrJobAlreadyRunning.Error())
		return nil, ErrJobAlreadyRunning
	}
	defer s.jobMu.Unlock()

	start := time.Now()
	bridge.Submit(0, "starting")
	s.logger.Info("transcription started",
		zap.String("file", filepath.Base(audioPath)), zap.String("model", modelName))

	modelDir, err := s.ensureModel(ctx, modelName, bridge)
	if err != nil {
		bridge.Fail(userMessage(err))
		return nil, err
	}

	stream, err := s.engine.Run(ctx, engine.Request{
		AudioPath:    audioPath,
		ModelDir:     modelDir,
		Language:     language,
		VADFilter:    true,
		MinSilenceMs: 500,
	})
	if err != nil {
		bridge.Fail(classifyInferenceError(err))
		return nil, err
	}

	info := stream.Info()
	segments := make([]engine.Segment, 0, 16)
	var text strings.Builder

	for {
		segment, ok := stream.Next()
		if !ok {
			break
		}

		segment.Text = strings.TrimSpace(segment.Text)
		segments = append(segments, segment)
		text.WriteString(segment.Text)

		// Cap inference progress below 100% to leave headroom for
		// formatting and finalization.
		if info.DurationSec > 0 {
			fraction := math.Min(segment.EndSec/info.DurationSec, 0.95)
			bridge.Submit(int(fraction*100), "transcribing")
		}
	}
	_ = stream.Close()

	if err := stream.Err(); err != nil {
		// A failed job never partially succeeds; accumulated segments are
		// discarded.
		s.logger.Error("inference failed", zap.Error(err))
		bridge.Fail(classifyInferenceError(err))
		return nil, err
	}

	bridge.Submit(92, "formatting")
	formatted := format.Format(text.String())

	result := &Result{
		Success:          true,
		Text:             formatted,
		Segments:         segments,
		ElapsedSec:       math.Round(time.Since(start).Seconds()*10) / 10,
		DetectedLanguage: info.Language,
		CharCount:        len([]rune(formatted)),
		SegmentCount:     len(segments),
		Model:            modelName,
	}

	s.stateMu.Lock()
	s.lastResult = result
	s.stateMu.Unlock()

	s.logger.Info("transcription finished",
		zap.Int("chars", result.CharCount),
		zap.Int("segments", result.SegmentCount),
		zap.Float64("elapsed_sec", result.ElapsedSec))

	bridge.Complete(result)
	return result, nil
}

// ensureModel makes the requested model loadable and returns its snapshot
// directory. A valid cached model is reused; an invalid one is repaired
// (cleared) and re-downloaded; an uncached one is downloaded through the
// retry ladder.
func (s *Service) ensureModel(ctx context.Context, name string, bridge *progress.Bridge) (string, error) {
	s.stateMu.Lock()
	if s.loaded != nil && s.loaded.name == name {
		dir := s.loaded.dir
		s.stateMu.Unlock()
		s.logger.Debug("model already loaded", zap.String("model", name))
		bridge.Submit(5, "model ready")
		return dir, nil
	}
	s.stateMu.Unlock()

	status := s.assets.Exists(name)
	if status.Exists {
		report := s.assets.VerifyIntegrity(name)
		if report.Valid {
			bridge.Submit(5, "starting engine")
			s.setLoaded(name, report.SnapshotPath)
			return report.SnapshotPath, nil
		}

		s.logger.Warn("cached model is corrupted, repairing",
			zap.String("model", name),
			zap.Strings("missing", report.MissingFiles),
			zap.Strings("corrupted", report.CorruptedFiles))
		if !s.assets.Repair(name) {
			return "", fmt.Errorf("model %s is corrupted and automatic repair failed; remove the cache manually: %s", name, status.Path)
		}
	}

	bridge.Submit(5, fmt.Sprintf("downloading %s model (about %.1f GB, first run only)",
		model.DisplayName(name), model.SizeEstimateGB(name)))

	dir, err := s.downloadModel(ctx, name)
	if err != nil {
		return "", &DownloadError{
			Model:       name,
			CacheDir:    s.cacheDir,
			FallbackDir: s.fallbackDir,
			Cause:       err,
		}
	}

	s.setLoaded(name, dir)
	return dir, nil
}

// downloadModel runs the retry ladder: a normal linked download, then the
// same after clearing stale partial-download artifacts, then a link-free
// download into the fallback directory. Only permission-class failures
// escalate to the next rung; anything else surfaces immediately.
func (s *Service) downloadModel(ctx context.Context, name string) (string, error) {
	spec, ok := model.Lookup(name)
	if !ok {
		return "", fmt.Errorf("model %s is not in the catalog", name)
	}

	base := download.Options{
		RepoID:   spec.RepoID,
		Files:    model.RequiredFiles,
		CacheDir: s.cacheDir,
		BaseURL:  s.baseURL,
		Logger:   s.logger,
	}

	dir, err := s.downloadFn(ctx, base)
	if err == nil || !isPermissionClass(err) {
		return dir, err
	}

	s.logger.Warn("download hit a permission failure, clearing stale artifacts and retrying", zap.Error(err))
	download.ClearStaleArtifacts(s.cacheDir, s.logger)

	dir, err = s.downloadFn(ctx, base)
	if err == nil || !isPermissionClass(err) {
		return dir, err
	}

	s.logger.Warn("retry failed, switching to link-free download", zap.Error(err))
	fallback := base
	fallback.Mode = download.ModeNoLink
	fallback.TargetDir = filepath.Join(s.fallbackDir, "faster-whisper-"+name)
	return s.downloadFn(ctx, fallback)
}

func (s *Service) setLoaded(name, dir string) {
	s.stateMu.Lock()
	s.loaded = &loadedModel{name: name, dir: dir}
	s.stateMu.Unlock()
}

func userMessage(err error) string {
	if de, ok := err.(*DownloadError); ok {
		return de.UserMessage()
	}
	return err.Error()
}
