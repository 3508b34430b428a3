package imu

import (
	"time"

	"github.com/pkg/errors"
)

// errOutOfOrder marks a sample whose stamp is not strictly after the last
// accepted one. The engine handles it locally (log and drop).
var errOutOfOrder = errors.New("sample timestamp is not strictly increasing")

// window is a bounded, chronologically ordered deque of samples. Eviction is
// explicit and oldest-first: consumed entries leave from the front while new
// samples append at the back.
type window struct {
	samples []Sample
	// span bounds the time between the oldest and newest sample; zero means
	// unbounded.
	span time.Duration
}

// push appends a sample. It rejects out-of-order input with errOutOfOrder and
// reports an OverflowError when the configured span is exceeded; the sample is
// kept in the overflow case so data is not lost, the caller decides policy.
func (w *window) push(s Sample) error {
	if n := len(w.samples); n > 0 && !s.Stamp.After(w.samples[n-1].Stamp) {
		return errOutOfOrder
	}
	w.samples = append(w.samples, s)
	if w.span > 0 {
		if have := s.Stamp.Sub(w.samples[0].Stamp); have > w.span {
			return &OverflowError{Span: have, Limit: w.span}
		}
	}
	return nil
}

// evictBefore drops all samples stamped strictly before t and reports how
// many were removed.
func (w *window) evictBefore(t time.Time) int {
	idx := 0
	for idx < len(w.samples) && w.samples[idx].Stamp.Before(t) {
		idx++
	}
	if idx > 0 {
		w.samples = append(w.samples[:0], w.samples[idx:]...)
	}
	return idx
}

// runBefore returns the sub-run of samples stamped in [oldest, t). The
// returned slice aliases the window and must not be retained across
// mutations.
func (w *window) runBefore(t time.Time) []Sample {
	idx := 0
	for idx < len(w.samples) && w.samples[idx].Stamp.Before(t) {
		idx++
	}
	return w.samples[:idx]
}

// len returns the number of buffered samples.
func (w *window) len() int {
	return len(w.samples)
}

// newest returns the most recent sample.
func (w *window) newest() (Sample, bool) {
	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// History is a fixed-capacity window over the most recently registered
// states. When full, the oldest state is evicted first.
type History struct {
	capacity int
	states   []State
}

// newHistory returns a history bounded to the given capacity.
func newHistory(capacity int) *History {
	return &History{capacity: capacity}
}

// add records a state, evicting the oldest when at capacity.
func (h *History) add(s State) {
	if h.capacity == 0 {
		return
	}
	if len(h.states) == h.capacity {
		h.states = append(h.states[:0], h.states[1:]...)
	}
	h.states = append(h.states, s)
}

// Len returns the number of retained states.
func (h *History) Len() int {
	return len(h.states)
}

// States returns the retained states, oldest first.
func (h *History) States() []State {
	out := make([]State, len(h.states))
	copy(out, h.states)
	return out
}
