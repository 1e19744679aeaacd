package lifecycle

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesOwnPid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gaq_transcriber.lock")
	lock := NewInstanceLock(path, nil)
	t.Cleanup(lock.Release)

	ok, err := lock.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestSecondAcquireFailsWithoutBlocking(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gaq_transcriber.lock")
	first := NewInstanceLock(path, nil)
	t.Cleanup(first.Release)

	ok, err := first.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	second := NewInstanceLock(path, nil)
	ok, err = second.Acquire()
	require.NoError(t, err)
	require.False(t, ok)

	// The holder's recorded pid must survive the failed attempt.
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestAcquireIsIdempotentForTheHolder(t *testing.T) {
	t.Parallel()

	lock := NewInstanceLock(filepath.Join(t.TempDir(), "a.lock"), nil)
	t.Cleanup(lock.Release)

	ok, err := lock.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseAllowsReacquisition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.lock")
	first := NewInstanceLock(path, nil)

	ok, err := first.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	first.Release()

	second := NewInstanceLock(path, nil)
	t.Cleanup(second.Release)
	ok, err = second.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseWithoutLockIsSafe(t *testing.T) {
	t.Parallel()

	lock := NewInstanceLock(filepath.Join(t.TempDir(), "a.lock"), nil)
	lock.Release()
	lock.Release()
}
