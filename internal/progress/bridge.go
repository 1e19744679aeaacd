package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one unit in a job's progress stream. A terminal event carries
// either Result or Error, never both; the stream ends with it.
type Event struct {
	Progress int    `json:"progress"`
	Status   string `json:"status,omitempty"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Result != nil || e.Error != ""
}

// Bridge moves progress values from the blocking worker goroutine to a
// polling consumer. The worker side never blocks: intermediate events are
// dropped when the buffer is full (progress is best-effort), while a
// terminal event evicts the oldest buffered event until it fits, so it is
// never lost. One Bridge serves exactly one job.
type Bridge struct {
	ch     chan Event
	logger *zap.Logger

	mu           sync.Mutex
	terminalSent bool
	lastEmitted  int
	finished     bool
}

func NewBridge(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		ch:     make(chan Event, 64),
		logger: logger,
		// Before the first emission there is nothing to suppress against,
		// so the opening progress-0 event must pass through.
		lastEmitted: -1,
	}
}

// Submit hands an intermediate progress value to the consumer without
// blocking. Events submitted after the terminal one are discarded.
func (b *Bridge) Submit(percent int, status string) {
	b.mu.Lock()
	done := b.terminalSent
	b.mu.Unlock()
	if done {
		return
	}

	select {
	case b.ch <- Event{Progress: percent, Status: status}:
	default:
		b.logger.Debug("progress event dropped, consumer behind",
			zap.Int("percent", percent), zap.String("status", status))
	}
}

// Complete delivers the successful terminal event.
func (b *Bridge) Complete(result any) {
	b.terminal(Event{Progress: 100, Result: result})
}

// Fail delivers the failing terminal event.
func (b *Bridge) Fail(message string) {
	b.terminal(Event{Error: message})
}

func (b *Bridge) terminal(event Event) {
	b.mu.Lock()
	if b.terminalSent {
		b.mu.Unlock()
		return
	}
	b.terminalSent = true
	b.mu.Unlock()

	for {
		select {
		case b.ch <- event:
			return
		default:
			// Buffer full of stale intermediate events; the terminal one
			// outranks all of them.
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// Poll waits up to timeout for progress and returns the most advanced event
// seen since the last emission. Equal or lower values are suppressed
// (ok=false), keeping the emitted sequence strictly increasing until the
// terminal event. After the terminal event has been returned once, Poll
// always reports ok=false.
func (b *Bridge) Poll(timeout time.Duration) (Event, bool) {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return Event{}, false
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var best Event
	have := false

	select {
	case event := <-b.ch:
		if event.Terminal() {
			return b.finish(event)
		}
		best, have = event, true
	case <-timer.C:
		return Event{}, false
	}

	for {
		select {
		case event := <-b.ch:
			if event.Terminal() {
				return b.finish(event)
			}
			if event.Progress > best.Progress {
				best = event
			}
		default:
			b.mu.Lock()
			defer b.mu.Unlock()
			if !have || best.Progress <= b.lastEmitted {
				return Event{}, false
			}
			b.lastEmitted = best.Progress
			return best, true
		}
	}
}

func (b *Bridge) finish(event Event) (Event, bool) {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
	return event, true
}
