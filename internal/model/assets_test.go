package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, cacheDir, name, revision string, files map[string]string) string {
	t.Helper()

	snapshot := filepath.Join(cacheDir, CacheDirName(name), "snapshots", revision)
	require.NoError(t, os.MkdirAll(snapshot, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(snapshot, file), []byte(content), 0o644))
	}
	return snapshot
}

func validSnapshotFiles() map[string]string {
	return map[string]string{
		"model.bin":       "weights",
		"config.json":     `{"model_type":"whisper"}`,
		"tokenizer.json":  `{"version":"1.0"}`,
		"vocabulary.json": `["<|startoftranscript|>"]`,
	}
}

func TestExistsUncachedReportsEstimate(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	status := m.Exists("large-v3")
	require.False(t, status.Exists)
	require.InDelta(t, 2.9, status.SizeGB, 0.01)
	require.Empty(t, status.Path)
}

func TestExistsCachedSumsOnDiskSize(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	writeSnapshot(t, cacheDir, "medium", "abc123", validSnapshotFiles())

	m := NewManager(cacheDir, nil)
	status := m.Exists("medium")
	require.True(t, status.Exists)
	require.Equal(t, m.ModelDir("medium"), status.Path)
	require.GreaterOrEqual(t, status.SizeGB, 0.0)
}

func TestVerifyIntegrityValidSnapshot(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	snapshot := writeSnapshot(t, cacheDir, "medium", "abc123", validSnapshotFiles())

	report := NewManager(cacheDir, nil).VerifyIntegrity("medium")
	require.True(t, report.Valid)
	require.Empty(t, report.MissingFiles)
	require.Empty(t, report.CorruptedFiles)
	require.Equal(t, snapshot, report.SnapshotPath)
}

func TestVerifyIntegrityMissingVocabulary(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	files := validSnapshotFiles()
	delete(files, "vocabulary.json")
	writeSnapshot(t, cacheDir, "medium", "abc123", files)

	report := NewManager(cacheDir, nil).VerifyIntegrity("medium")
	require.False(t, report.Valid)
	require.Equal(t, []string{"vocabulary.json"}, report.MissingFiles)
	require.Empty(t, report.CorruptedFiles)
}

func TestVerifyIntegrityZeroLengthConfig(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	files := validSnapshotFiles()
	files["config.json"] = ""
	writeSnapshot(t, cacheDir, "large-v3", "rev1", files)

	report := NewManager(cacheDir, nil).VerifyIntegrity("large-v3")
	require.False(t, report.Valid)
	require.Contains(t, report.CorruptedFiles, "config.json")
}

func TestVerifyIntegrityUnparseableManifest(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	files := validSnapshotFiles()
	files["config.json"] = "{not json"
	writeSnapshot(t, cacheDir, "medium", "rev1", files)

	report := NewManager(cacheDir, nil).VerifyIntegrity("medium")
	require.False(t, report.Valid)
	require.Contains(t, report.CorruptedFiles, "config.json")
}

func TestVerifyIntegrityNoSnapshotDirectory(t *testing.T) {
	t.Parallel()

	report := NewManager(t.TempDir(), nil).VerifyIntegrity("medium")
	require.False(t, report.Valid)
	require.Equal(t, RequiredFiles, report.MissingFiles)
	require.Empty(t, report.SnapshotPath)
}

func TestVerifyIntegrityPicksNewestSnapshot(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	stale := writeSnapshot(t, cacheDir, "medium", "old", map[string]string{"model.bin": ""})
	fresh := writeSnapshot(t, cacheDir, "medium", "new", validSnapshotFiles())

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	report := NewManager(cacheDir, nil).VerifyIntegrity("medium")
	require.True(t, report.Valid)
	require.Equal(t, fresh, report.SnapshotPath)
}

func TestRepairRemovesModelTree(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	writeSnapshot(t, cacheDir, "large-v3", "rev1", validSnapshotFiles())

	m := NewManager(cacheDir, nil)
	require.True(t, m.Repair("large-v3"))
	require.NoDirExists(t, m.ModelDir("large-v3"))
}

func TestRepairAlreadyAbsentCountsAsRepaired(t *testing.T) {
	t.Parallel()

	require.True(t, NewManager(t.TempDir(), nil).Repair("large-v3"))
}

func TestDeleteDefaultModelRejected(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	writeSnapshot(t, cacheDir, "medium", "rev1", validSnapshotFiles())

	_, err := NewManager(cacheDir, nil).Delete("medium")
	require.ErrorIs(t, err, ErrDeleteDefault)
}

func TestDeleteUncachedModelRejected(t *testing.T) {
	t.Parallel()

	_, err := NewManager(t.TempDir(), nil).Delete("large-v3")
	require.ErrorIs(t, err, ErrNotCached)
}

func TestDeleteCachedModel(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	writeSnapshot(t, cacheDir, "large-v3", "rev1", validSnapshotFiles())

	m := NewManager(cacheDir, nil)
	message, err := m.Delete("large-v3")
	require.NoError(t, err)
	require.Equal(t, "Large-v3 model deleted", message)
	require.NoDirExists(t, m.ModelDir("large-v3"))
}

func TestCatalogAllowList(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"large-v3", "medium"}, Names())
	require.True(t, Allowed("medium"))
	require.True(t, Allowed("large-v3"))
	require.False(t, Allowed("small"))
	require.False(t, Allowed(""))
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Medium", DisplayName("medium"))
	require.Equal(t, "Large-v3", DisplayName("large-v3"))
	require.Equal(t, "Tiny", DisplayName("tiny"))
}

func TestCacheDirName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "models--Systran--faster-whisper-medium", CacheDirName("medium"))
}
