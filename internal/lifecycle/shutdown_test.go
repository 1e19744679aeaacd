package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	exitOn  string // signal name that makes the process exit, "" = never
	signals []string
	exited  bool
}

func (f *fakeProcess) record(name string) error {
	f.signals = append(f.signals, name)
	if f.exitOn == name {
		f.exited = true
	}
	return nil
}

func (f *fakeProcess) Interrupt() error { return f.record("interrupt") }
func (f *fakeProcess) Terminate() error { return f.record("terminate") }
func (f *fakeProcess) Kill() error      { return f.record("kill") }

func (f *fakeProcess) WaitExit(time.Duration) bool {
	return f.exited
}

func fastPolicy() ShutdownPolicy {
	return ShutdownPolicy{
		GracefulWait:  10 * time.Millisecond,
		TerminateWait: 10 * time.Millisecond,
		KillWait:      10 * time.Millisecond,
	}
}

func TestShutdownStopsAtGracefulTier(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{exitOn: "interrupt"}
	require.NoError(t, fastPolicy().Shutdown(proc, nil))
	require.Equal(t, []string{"interrupt"}, proc.signals)
}

func TestShutdownEscalatesToTerminate(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{exitOn: "terminate"}
	require.NoError(t, fastPolicy().Shutdown(proc, nil))
	require.Equal(t, []string{"interrupt", "terminate"}, proc.signals)
}

func TestShutdownEscalatesToKill(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{exitOn: "kill"}
	require.NoError(t, fastPolicy().Shutdown(proc, nil))
	require.Equal(t, []string{"interrupt", "terminate", "kill"}, proc.signals)
}

func TestShutdownReportsUnkillableProcess(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{}
	err := fastPolicy().Shutdown(proc, nil)
	require.Error(t, err)
	require.Equal(t, []string{"interrupt", "terminate", "kill"}, proc.signals)
}

func TestShutdownTotalWaitIsBounded(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{}
	start := time.Now()
	_ = fastPolicy().Shutdown(proc, nil)
	require.Less(t, time.Since(start), time.Second)
}

func TestDefaultPolicyTiers(t *testing.T) {
	t.Parallel()

	p := DefaultShutdownPolicy()
	require.Equal(t, 5*time.Second, p.GracefulWait)
	require.Equal(t, 2*time.Second, p.TerminateWait)
	require.Equal(t, time.Second, p.KillWait)
}
