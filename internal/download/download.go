package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/tsuji-lab/gaq/internal/version"
)

const DefaultBaseURL = "https://huggingface.co"

// Mode selects how downloaded snapshot files are laid out on disk.
type Mode int

const (
	// ModeDefault stores blobs once and links snapshot entries to them,
	// matching the shared hub cache layout.
	ModeDefault Mode = iota
	// ModeNoLink materializes every file as a plain copy in a dedicated
	// target directory. Used when link creation fails with a
	// permission-class error (unprivileged Windows accounts, some AV
	// setups).
	ModeNoLink
)

type Options struct {
	RepoID    string
	Files     []string
	Revision  string
	CacheDir  string // hub cache root, ModeDefault
	TargetDir string // materialization directory, ModeNoLink
	Mode      Mode

	BaseURL    string
	Retries    int
	NoProgress bool
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Snapshot fetches all files of a model revision and returns the directory
// the engine should load from. Partially written files never become visible:
// each file lands under a .part name and is renamed only after the body is
// fully read.
func Snapshot(ctx context.Context, opts Options) (string, error) {
	if opts.RepoID == "" {
		return "", errors.New("repo id is required")
	}
	if len(opts.Files) == 0 {
		return "", errors.New("file list is required")
	}
	if opts.Revision == "" {
		opts.Revision = "main"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	switch opts.Mode {
	case ModeNoLink:
		return materializedSnapshot(ctx, opts)
	default:
		return linkedSnapshot(ctx, opts)
	}
}

func linkedSnapshot(ctx context.Context, opts Options) (string, error) {
	if opts.CacheDir == "" {
		return "", errors.New("cache directory is required")
	}

	modelDir := filepath.Join(opts.CacheDir, "models--"+strings.ReplaceAll(opts.RepoID, "/", "--"))
	blobsDir := filepath.Join(modelDir, "blobs")
	snapshotDir := filepath.Join(modelDir, "snapshots", opts.Revision)

	for _, dir := range []string{blobsDir, snapshotDir, filepath.Join(modelDir, "refs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}

	for _, file := range opts.Files {
		blobPath := filepath.Join(blobsDir, strings.ReplaceAll(file, "/", "--"))
		if err := fetchFile(ctx, opts, file, blobPath); err != nil {
			return "", err
		}

		linkPath := filepath.Join(snapshotDir, file)
		if err := linkBlob(blobPath, linkPath); err != nil {
			return "", fmt.Errorf("link snapshot file %s: %w", file, err)
		}
	}

	refPath := filepath.Join(modelDir, "refs", opts.Revision)
	if err := os.WriteFile(refPath, []byte(opts.Revision), 0o644); err != nil {
		opts.Logger.Warn("failed to record snapshot ref", zap.Error(err))
	}

	return snapshotDir, nil
}

func materializedSnapshot(ctx context.Context, opts Options) (string, error) {
	if opts.TargetDir == "" {
		return "", errors.New("target directory is required")
	}

	// A half-finished earlier attempt in the fallback directory is useless;
	// start clean.
	if err := os.RemoveAll(opts.TargetDir); err != nil {
		return "", fmt.Errorf("clear fallback directory: %w", err)
	}
	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback directory: %w", err)
	}

	opts.Logger.Info("downloading model without link features",
		zap.String("repo", opts.RepoID), zap.String("target", opts.TargetDir))

	for _, file := range opts.Files {
		if err := fetchFile(ctx, opts, file, filepath.Join(opts.TargetDir, file)); err != nil {
			return "", err
		}
	}

	return opts.TargetDir, nil
}

// linkBlob points a snapshot entry at its blob, preferring a symlink and
// falling back to a hard link. Both failing is the signal that the
// filesystem or security policy forbids links entirely.
func linkBlob(blobPath, linkPath string) error {
	_ = os.Remove(linkPath)

	relTarget, err := filepath.Rel(filepath.Dir(linkPath), blobPath)
	if err != nil {
		relTarget = blobPath
	}

	if err := os.Symlink(relTarget, linkPath); err == nil {
		return nil
	}

	return os.Link(blobPath, linkPath)
}

func fetchFile(ctx context.Context, opts Options, file, destination string) error {
	if info, err := os.Stat(destination); err == nil && info.Size() > 0 {
		opts.Logger.Debug("file already present, skipping", zap.String("file", file))
		return nil
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(opts.BaseURL, "/"), opts.RepoID, opts.Revision, file)

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download",
				zap.Int("attempt", attempt), zap.Int("max", opts.Retries), zap.String("url", url))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}

		lastErr = downloadOnce(ctx, opts, url, file, destination)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("download %s: %w", file, lastErr)
}

func downloadOnce(ctx context.Context, opts Options, url, file, destination string) error {
	tempPath := destination + ".part"
	_ = os.Remove(tempPath)

	outFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = outFile.Close()
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "gaq/"+version.Version)

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, file)
	}

	var writer io.Writer = outFile
	var bar *progressbar.ProgressBar
	if shouldRenderProgress(opts.NoProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription("downloading "+file),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(outFile, bar)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	success = true
	return nil
}

// ClearStaleArtifacts removes leftover partial-download and lock files under
// root. Interrupted fetches leave these behind and a later download attempt
// can fail on them with a permission error instead of overwriting.
func ClearStaleArtifacts(root string, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}

	removed := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		switch filepath.Ext(path) {
		case ".part", ".tmp", ".lock":
			if err := os.Remove(path); err == nil {
				logger.Debug("removed stale artifact", zap.String("path", path))
				removed++
			}
		}
		return nil
	})

	if removed > 0 {
		logger.Info("cleared stale download artifacts", zap.Int("count", removed), zap.String("root", root))
	}
	return removed
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress {
		return false
	}
	if contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
