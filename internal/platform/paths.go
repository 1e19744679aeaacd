package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ModelCacheDirFor returns the model cache root for the given OS and
// environment. HF_HUB_CACHE and HF_HOME override the default so an existing
// cache populated by other tools is reused instead of duplicated.
func ModelCacheDirFor(homeDir, hfHubCache, hfHome string) (string, error) {
	if hfHubCache != "" {
		return filepath.Clean(hfHubCache), nil
	}
	if hfHome != "" {
		return filepath.Join(hfHome, "hub"), nil
	}
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}
	return filepath.Join(homeDir, ".cache", "huggingface", "hub"), nil
}

// ResolveModelCacheDir resolves the model cache root, honoring an explicit
// override first, then the HF_* environment variables.
func ResolveModelCacheDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return ModelCacheDirFor(homeDir, os.Getenv("HF_HUB_CACHE"), os.Getenv("HF_HOME"))
}

// FallbackModelDir is the directory where models are materialized as real
// files when the default cache layout cannot be written (link-feature
// failures). It lives next to the hub cache, never inside it.
func FallbackModelDir(cacheDir string) string {
	return filepath.Join(filepath.Dir(cacheDir), "no_symlink_models")
}

// AppDataDir returns the per-user application data directory.
func AppDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return appDataDirFor(runtime.GOOS, homeDir, os.Getenv("LOCALAPPDATA")), nil
}

func appDataDirFor(goos, homeDir, localAppData string) string {
	if goos == "windows" {
		if localAppData != "" {
			return filepath.Join(localAppData, "GaQ")
		}
		return filepath.Join(homeDir, "AppData", "Local", "GaQ")
	}
	return filepath.Join(homeDir, ".gaq")
}

// LogDir returns the directory where the service log file lives, honoring the
// GAQ_LOG_DIR override.
func LogDir() (string, error) {
	if custom := os.Getenv("GAQ_LOG_DIR"); custom != "" {
		return filepath.Clean(custom), nil
	}

	appDir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir, "logs"), nil
}

// LockFilePath returns the well-known single-instance lock file location.
func LockFilePath() string {
	return lockFilePathFor(runtime.GOOS, os.Getenv("TEMP"))
}

func lockFilePathFor(goos, tempDir string) string {
	if goos == "windows" {
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		return filepath.Join(tempDir, "gaq_transcriber.lock")
	}
	return filepath.Join("/tmp", "gaq_transcriber.lock")
}

// ResolveUploadDir picks the first writable directory from the candidate
// chain: explicit override, app-data uploads, then a temp-dir fallback. A
// directory that exists but rejects writes is skipped; upload handling must
// never fail at startup just because the preferred location is read-only.
func ResolveUploadDir(override string) (string, error) {
	candidates := make([]string, 0, 3)
	if override != "" {
		candidates = append(candidates, filepath.Clean(override))
	}

	if appDir, err := AppDataDir(); err == nil {
		candidates = append(candidates, filepath.Join(appDir, "uploads"))
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), "gaq", "uploads"))

	for _, dir := range candidates {
		if DirWritable(dir) {
			return dir, nil
		}
	}

	return "", fmt.Errorf("no writable upload directory among %v", candidates)
}

// DirWritable reports whether dir can be created and written to, probed with
// a throwaway file.
func DirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}

	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return false
	}

	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}
