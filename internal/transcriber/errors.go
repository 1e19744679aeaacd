package transcriber

import (
	"errors"
	"fmt"
	"strings"
)

// ErrJobAlreadyRunning is returned when a job is submitted while another is
// in flight. Model state is process-wide and not safe for concurrent loads,
// so a second job is rejected rather than queued.
var ErrJobAlreadyRunning = errors.New("a transcription job is already running")

// ValidationError rejects a request before any work starts. Its message is
// shown to the user verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DownloadError is the terminal failure of the model download ladder, after
// all retry strategies were exhausted. Its message carries remediation steps
// because the usual causes are environmental, not bugs.
type DownloadError struct {
	Model       string
	CacheDir    string
	FallbackDir string
	Cause       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("model %s download failed: %v", e.Model, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// UserMessage renders the download failure with its checklist of likely
// causes.
func (e *DownloadError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Model download failed.\n\nPlease check:\n")
	b.WriteString("1. Internet connection\n")
	b.WriteString("2. Free disk space (about 3 GB required)\n")
	b.WriteString("3. Security software settings\n")
	b.WriteString("4. Write permissions for the cache folder\n\n")
	fmt.Fprintf(&b, "Cache folder: %s\n", e.CacheDir)
	if e.FallbackDir != "" {
		fmt.Fprintf(&b, "Fallback folder: %s\n", e.FallbackDir)
	}
	fmt.Fprintf(&b, "\nDetails: %v", e.Cause)
	return b.String()
}

type diagnosis struct {
	match   func(string) bool
	message string
}

func anyOf(patterns ...string) func(string) bool {
	return func(s string) bool {
		for _, p := range patterns {
			if strings.Contains(s, p) {
				return true
			}
		}
		return false
	}
}

func allOf(matchers ...func(string) bool) func(string) bool {
	return func(s string) bool {
		for _, m := range matchers {
			if !m(s) {
				return false
			}
		}
		return true
	}
}

// inferenceDiagnoses maps known recognition failure signatures to specific
// user-facing messages. Order matters: first match wins.
var inferenceDiagnoses = []diagnosis{
	{
		match:   anyOf("codec", "decoder"),
		message: "The audio codec is not supported. Try an MP3, WAV, M4A, FLAC or OGG file.",
	},
	{
		match:   allOf(anyOf("sample"), anyOf("rate", "format")),
		message: "The audio format is unusual. Convert the file to a standard MP3 or WAV and try again.",
	},
	{
		match:   anyOf("channel"),
		message: "Multi-channel audio is not supported. Convert the file to stereo or mono.",
	},
	{
		match:   anyOf("ffmpeg", "avcodec", "avformat"),
		message: "The audio file could not be decoded. Check that the file is not corrupted.",
	},
	{
		match:   anyOf("memory", "alloc"),
		message: "Out of memory. Close other applications or try a smaller file.",
	},
}

// classifyInferenceError turns an engine failure into a user-facing message.
// Unrecognized failures pass through unchanged rather than hiding the cause.
func classifyInferenceError(err error) string {
	text := strings.ToLower(err.Error())
	for _, d := range inferenceDiagnoses {
		if d.match(text) {
			return d.message
		}
	}
	return err.Error()
}

// permission-class failures are what the download retry ladder exists for:
// the hub cache layout needs filesystem links, and unprivileged accounts or
// security software can forbid them.
func isPermissionClass(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return anyOf("permission denied", "access is denied", "operation not permitted", "1314", "symlink", "privilege")(text)
}
