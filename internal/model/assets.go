package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrDeleteDefault = errors.New("the default model cannot be deleted")
	ErrNotCached     = errors.New("model is not cached")
)

// Status reports whether a model is cached and how large it is on disk. For
// uncached models SizeGB carries the static download estimate instead.
type Status struct {
	Exists bool    `json:"exists"`
	SizeGB float64 `json:"size_gb"`
	Path   string  `json:"path,omitempty"`
}

// IntegrityReport is the outcome of checking a cached model's snapshot for
// required files. A model directory can exist while being unusable: an
// interrupted download leaves the tree in place with files missing or
// truncated to zero bytes, and the engine fails to load it with an opaque
// error. Integrity is therefore checked separately from existence.
type IntegrityReport struct {
	Valid          bool     `json:"valid"`
	MissingFiles   []string `json:"missing_files,omitempty"`
	CorruptedFiles []string `json:"corrupted_files,omitempty"`
	SnapshotPath   string   `json:"snapshot_path,omitempty"`
}

// Manager owns the on-disk model cache: existence and size queries, snapshot
// integrity verification, and destructive repair/delete operations. It never
// downloads; fetching is the downloader's job.
type Manager struct {
	cacheDir string
	logger   *zap.Logger
}

func NewManager(cacheDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cacheDir: cacheDir, logger: logger}
}

func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// ModelDir returns the cache directory for the named model, whether or not it
// exists.
func (m *Manager) ModelDir(name string) string {
	return filepath.Join(m.cacheDir, CacheDirName(name))
}

// Exists reports cache status for the named model. Absence is not an error;
// uncached models report the static size estimate used for download warnings.
func (m *Manager) Exists(name string) Status {
	dir := m.ModelDir(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Status{Exists: false, SizeGB: roundGB(SizeEstimateGB(name))}
	}

	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})

	return Status{
		Exists: true,
		SizeGB: roundGB(float64(total) / (1 << 30)),
		Path:   dir,
	}
}

// VerifyIntegrity checks the most recent snapshot of a cached model for the
// required file set: absent files are reported missing, zero-length files
// corrupted, and a manifest that fails to parse is also corrupted.
func (m *Manager) VerifyIntegrity(name string) IntegrityReport {
	snapshot, ok := m.latestSnapshot(name)
	if !ok {
		report := IntegrityReport{MissingFiles: append([]string(nil), RequiredFiles...)}
		m.logger.Warn("model has no usable snapshot", zap.String("model", name))
		return report
	}

	report := IntegrityReport{SnapshotPath: snapshot}
	for _, file := range RequiredFiles {
		path := filepath.Join(snapshot, file)
		info, err := os.Stat(path)
		switch {
		case err != nil:
			report.MissingFiles = append(report.MissingFiles, file)
		case info.Size() == 0:
			report.CorruptedFiles = append(report.CorruptedFiles, file)
		}
	}

	if !contains(report.MissingFiles, ManifestFile) && !contains(report.CorruptedFiles, ManifestFile) {
		if err := parseManifest(filepath.Join(snapshot, ManifestFile)); err != nil {
			report.CorruptedFiles = append(report.CorruptedFiles, ManifestFile)
		}
	}

	report.Valid = len(report.MissingFiles) == 0 && len(report.CorruptedFiles) == 0
	if !report.Valid {
		m.logger.Warn("model failed integrity check",
			zap.String("model", name),
			zap.Strings("missing", report.MissingFiles),
			zap.Strings("corrupted", report.CorruptedFiles))
	}
	return report
}

// Repair clears the entire cached model tree so the next load starts from a
// clean download. It reports whether the directory is gone afterwards; an
// already-absent model counts as repaired.
func (m *Manager) Repair(name string) bool {
	dir := m.ModelDir(name)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error("model repair failed", zap.String("model", name), zap.Error(err))
	}

	_, err := os.Stat(dir)
	repaired := errors.Is(err, fs.ErrNotExist)
	if repaired {
		m.logger.Info("model cache cleared for re-download", zap.String("model", name))
	}
	return repaired
}

// Delete removes a cached model on user request. The default model is
// protected and uncached models are rejected so the UI can distinguish the
// two cases.
func (m *Manager) Delete(name string) (string, error) {
	if name == DefaultModel {
		return "", ErrDeleteDefault
	}

	dir := m.ModelDir(name)
	if _, err := os.Stat(dir); err != nil {
		return "", ErrNotCached
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("delete model %s: %w", name, err)
	}

	m.logger.Info("model deleted", zap.String("model", name))
	return fmt.Sprintf("%s model deleted", DisplayName(name)), nil
}

// latestSnapshot locates the most-recently-modified snapshot directory for a
// cached model.
func (m *Manager) latestSnapshot(name string) (string, bool) {
	snapshotsDir := filepath.Join(m.ModelDir(name), "snapshots")
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		return "", false
	}

	dirs := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry)
		}
	}
	if len(dirs) == 0 {
		return "", false
	}

	sort.Slice(dirs, func(i, j int) bool {
		a, errA := dirs[i].Info()
		b, errB := dirs[j].Info()
		if errA != nil || errB != nil {
			return dirs[i].Name() < dirs[j].Name()
		}
		return a.ModTime().After(b.ModTime())
	})

	return filepath.Join(snapshotsDir, dirs[0].Name()), true
}

func parseManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var manifest map[string]any
	return json.Unmarshal(data, &manifest)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func roundGB(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
