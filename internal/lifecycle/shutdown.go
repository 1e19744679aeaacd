package lifecycle

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Process is the slice of a child process the shutdown sequence needs.
type Process interface {
	// Interrupt asks the process to exit gracefully.
	Interrupt() error
	// Terminate demands exit more forcefully but still catchably.
	Terminate() error
	// Kill ends the process unconditionally.
	Kill() error
	// WaitExit reports whether the process exited within timeout.
	WaitExit(timeout time.Duration) bool
}

// ShutdownPolicy bounds each escalation tier, so the worst-case total wait
// is the sum of the three.
type ShutdownPolicy struct {
	GracefulWait  time.Duration
	TerminateWait time.Duration
	KillWait      time.Duration
}

func DefaultShutdownPolicy() ShutdownPolicy {
	return ShutdownPolicy{
		GracefulWait:  5 * time.Second,
		TerminateWait: 2 * time.Second,
		KillWait:      time.Second,
	}
}

// Shutdown walks the escalation ladder until the process exits, logging the
// tier that succeeded. It returns an error only when the process survived
// even the kill tier.
func (p ShutdownPolicy) Shutdown(proc Process, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := proc.Interrupt(); err != nil {
		logger.Debug("graceful shutdown request failed", zap.Error(err))
	}
	if proc.WaitExit(p.GracefulWait) {
		logger.Info("process exited gracefully")
		return nil
	}

	logger.Warn("process ignored graceful shutdown, terminating")
	if err := proc.Terminate(); err != nil {
		logger.Debug("terminate failed", zap.Error(err))
	}
	if proc.WaitExit(p.TerminateWait) {
		logger.Info("process exited after terminate")
		return nil
	}

	logger.Warn("process ignored terminate, killing")
	if err := proc.Kill(); err != nil {
		logger.Debug("kill failed", zap.Error(err))
	}
	if proc.WaitExit(p.KillWait) {
		logger.Info("process exited after kill")
		return nil
	}

	return errors.New("process did not exit after kill")
}

// OSProcess adapts a started exec.Cmd to the Process interface. Wait is
// consumed by a single goroutine; WaitExit only observes the result.
type OSProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func NewOSProcess(cmd *exec.Cmd) *OSProcess {
	p := &OSProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p
}

func (p *OSProcess) Interrupt() error {
	return p.signal(os.Interrupt)
}

func (p *OSProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *OSProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *OSProcess) signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *OSProcess) WaitExit(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
