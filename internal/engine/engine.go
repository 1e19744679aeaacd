package engine

import "context"

// Segment is one recognized span of speech with its position in the audio.
type Segment struct {
	ID       int     `json:"id"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Text     string  `json:"text"`
}

// Info carries the per-file facts known before any segment is decoded. The
// total duration is what makes segment-relative progress possible.
type Info struct {
	DurationSec         float64 `json:"duration"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
}

type Request struct {
	AudioPath string
	ModelDir  string
	Language  string
	BeamSize  int
	// VADFilter skips non-speech spans; MinSilenceMs is the silence length
	// that splits segments when it is on.
	VADFilter    bool
	MinSilenceMs int
}

// Stream yields segments as the engine decodes them. Info is available as
// soon as the stream is returned; Next blocks until the next segment or the
// end of the audio. After Next returns false, Err reports how the run ended.
type Stream interface {
	Info() Info
	Next() (Segment, bool)
	Err() error
	Close() error
}

type Engine interface {
	Run(ctx context.Context, req Request) (Stream, error)
}
