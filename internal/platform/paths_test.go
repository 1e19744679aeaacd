package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelCacheDirForDefault(t *testing.T) {
	t.Parallel()

	dir, err := ModelCacheDirFor("/home/dev", "", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/home/dev", ".cache", "huggingface", "hub"), dir)
}

func TestModelCacheDirForHubCacheOverride(t *testing.T) {
	t.Parallel()

	dir, err := ModelCacheDirFor("/home/dev", "/srv/hub-cache", "")
	require.NoError(t, err)
	require.Equal(t, "/srv/hub-cache", dir)
}

func TestModelCacheDirForHFHome(t *testing.T) {
	t.Parallel()

	dir, err := ModelCacheDirFor("/home/dev", "", "/srv/hf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/srv/hf", "hub"), dir)
}

func TestModelCacheDirForEmptyHome(t *testing.T) {
	t.Parallel()

	_, err := ModelCacheDirFor("", "", "")
	require.Error(t, err)
}

func TestFallbackModelDirSitsNextToHub(t *testing.T) {
	t.Parallel()

	dir := FallbackModelDir("/home/dev/.cache/huggingface/hub")
	require.Equal(t, "/home/dev/.cache/huggingface/no_symlink_models", dir)
}

func TestAppDataDirFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, filepath.Join("/home/dev", ".gaq"), appDataDirFor("linux", "/home/dev", ""))
	require.Equal(t, filepath.Join("/Users/dev", ".gaq"), appDataDirFor("darwin", "/Users/dev", ""))
	require.Equal(t, filepath.Join("C:\\Users\\dev\\AppData\\Local", "GaQ"), appDataDirFor("windows", "C:\\Users\\dev", "C:\\Users\\dev\\AppData\\Local"))
}

func TestLockFilePathForUnix(t *testing.T) {
	t.Parallel()

	require.Equal(t, filepath.Join("/tmp", "gaq_transcriber.lock"), lockFilePathFor("linux", ""))
}

func TestResolveUploadDirHonorsWritableOverride(t *testing.T) {
	override := filepath.Join(t.TempDir(), "uploads")

	dir, err := ResolveUploadDir(override)
	require.NoError(t, err)
	require.Equal(t, override, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestResolveUploadDirSkipsReadOnlyOverride(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced the same way on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	readOnly := filepath.Join(t.TempDir(), "frozen")
	require.NoError(t, os.MkdirAll(readOnly, 0o555))

	dir, err := ResolveUploadDir(readOnly)
	require.NoError(t, err)
	require.NotEqual(t, readOnly, dir)
}

func TestDirWritable(t *testing.T) {
	require.True(t, DirWritable(filepath.Join(t.TempDir(), "fresh")))
}
