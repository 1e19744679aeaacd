package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tsuji-lab/gaq/internal/lifecycle"
)

// HelperEngine runs the bundled recognizer helper as a subprocess and speaks
// its line protocol: one JSON object per stdout line, an "info" line first,
// then one "segment" line per decoded span. Keeping the recognizer out of
// process isolates its native dependencies and lets a crash surface as an
// error instead of taking the service down.
type HelperEngine struct {
	Executable string
	Logger     *zap.Logger
}

func NewHelperEngine(logger *zap.Logger) (*HelperEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv("GAQ_HELPER_PATH")); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("GAQ_HELPER_PATH is not executable: %w", err)
		}
		return &HelperEngine{Executable: override, Logger: logger}, nil
	}

	selfExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}

	helperExe, err := ResolveHelperPath(selfExe)
	if err != nil {
		return nil, err
	}

	return &HelperEngine{Executable: helperExe, Logger: logger}, nil
}

func ResolveHelperPath(selfExecutable string) (string, error) {
	for _, candidate := range HelperPathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("recognizer helper not found near %s; reinstall from an official release, expected at ../libexec/recognizer/%s", selfExecutable, helperBinaryName())
}

func HelperPathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	helperName := helperBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "recognizer", helperName),
		filepath.Join(binDir, "libexec", "recognizer", helperName),
		filepath.Join(binDir, helperName),
	}
}

func (h *HelperEngine) Run(ctx context.Context, req Request) (Stream, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelDir) == "" {
		return nil, errors.New("model directory is required")
	}
	if err := ensureExecutable(h.Executable); err != nil {
		return nil, fmt.Errorf("recognizer helper missing or not executable: %w", err)
	}

	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if req.BeamSize <= 0 {
		req.BeamSize = 5
	}
	if req.MinSilenceMs <= 0 {
		req.MinSilenceMs = 500
	}

	args := []string{
		"--model-dir", req.ModelDir,
		"--audio", req.AudioPath,
		"--beam-size", strconv.Itoa(req.BeamSize),
		"--output", "jsonl",
	}
	if req.VADFilter {
		args = append(args, "--vad-filter", "--min-silence-ms", strconv.Itoa(req.MinSilenceMs))
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		args = append(args, "--language", lang)
	}

	cmd := exec.CommandContext(ctx, h.Executable, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach helper stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("running recognizer helper", zap.String("helper", h.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recognizer helper: %w", err)
	}

	stream := &helperStream{
		cmd:     cmd,
		scanner: bufio.NewScanner(stdout),
		stderr:  &stderr,
		logger:  logger,
	}
	stream.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if err := stream.readInfo(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	return stream, nil
}

type helperLine struct {
	Type string `json:"type"`
	Info
	Segment
}

type helperStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	logger  *zap.Logger

	info   Info
	err    error
	done   bool
	waited bool
}

func (s *helperStream) readInfo() error {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg helperLine
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("parse helper output: %w", err)
		}
		if msg.Type != "info" {
			return fmt.Errorf("helper sent %q before audio info", msg.Type)
		}

		s.info = msg.Info
		return nil
	}

	return s.finishErr("recognizer helper exited before sending audio info")
}

func (s *helperStream) Info() Info {
	return s.info
}

func (s *helperStream) Next() (Segment, bool) {
	if s.done {
		return Segment{}, false
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg helperLine
		if err := json.Unmarshal(line, &msg); err != nil {
			s.done = true
			s.err = fmt.Errorf("parse helper output: %w", err)
			return Segment{}, false
		}
		if msg.Type != "segment" {
			continue
		}

		return msg.Segment, true
	}

	s.done = true
	s.err = s.finishErr("")
	return Segment{}, false
}

func (s *helperStream) Err() error {
	return s.err
}

// Close releases an abandoned helper. A still-running process is walked
// down the shutdown ladder rather than killed outright, so it can flush and
// exit on its own terms when possible.
func (s *helperStream) Close() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return lifecycle.DefaultShutdownPolicy().Shutdown(lifecycle.NewOSProcess(s.cmd), s.logger)
}

// finishErr waits for the helper and folds its exit status and stderr into a
// single error, or nil on a clean exit.
func (s *helperStream) finishErr(context string) error {
	s.waited = true
	waitErr := s.cmd.Wait()
	errText := strings.TrimSpace(s.stderr.String())

	if waitErr == nil {
		if context != "" {
			return errors.New(context)
		}
		return nil
	}

	if errText != "" {
		s.logger.Debug("recognizer helper stderr", zap.String("stderr", errText))
		return fmt.Errorf("recognizer helper failed: %w (%s)", waitErr, errText)
	}
	return fmt.Errorf("recognizer helper failed: %w", waitErr)
}

func helperBinaryName() string {
	if runtime.GOOS == "windows" {
		return "gaq-recognizer.exe"
	}
	return "gaq-recognizer"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
