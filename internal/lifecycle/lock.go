package lifecycle

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// InstanceLock enforces the single-instance guarantee through an exclusive
// OS-level lock on a well-known file. The file's contents are the owning
// process id, for diagnostics; the lock itself is what carries the
// guarantee, so a stale pid in an unlocked file is harmless.
type InstanceLock struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
}

func NewInstanceLock(path string, logger *zap.Logger) *InstanceLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceLock{path: path, logger: logger}
}

func (l *InstanceLock) Path() string {
	return l.path
}

// Acquire attempts the lock without blocking. It returns false when another
// process holds it, leaving the holder's recorded pid untouched. On success
// the file is rewritten to contain exactly this process's id.
func (l *InstanceLock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return true, nil
	}

	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file %s: %w", l.path, err)
	}

	locked, err := tryLockFile(file)
	if err != nil {
		_ = file.Close()
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !locked {
		_ = file.Close()
		l.logger.Info("another instance holds the lock", zap.String("path", l.path))
		return false, nil
	}

	if err := file.Truncate(0); err != nil {
		_ = unlockFile(file)
		_ = file.Close()
		return false, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = unlockFile(file)
		_ = file.Close()
		return false, fmt.Errorf("write pid to lock file: %w", err)
	}
	_ = file.Sync()

	l.file = file
	l.logger.Debug("instance lock acquired", zap.String("path", l.path), zap.Int("pid", os.Getpid()))
	return true, nil
}

// Release unlocks and closes the file. Idempotent; safe without a held lock.
func (l *InstanceLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	if err := unlockFile(l.file); err != nil {
		l.logger.Warn("failed to unlock instance lock", zap.Error(err))
	}
	_ = l.file.Close()
	l.file = nil
	l.logger.Debug("instance lock released", zap.String("path", l.path))
}
