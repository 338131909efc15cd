// Package signal prepares raw PPG readings for live display.
//
// It implements the causal moving-average filter the recording screen
// plots: raw readings accumulate in a buffer, and each arrival batch that
// finds the buffer at or above the window size emits one averaged point
// into a bounded recent-history sequence.
package signal

import "github.com/beatbalance/hrvlink/internal/models"

// Default filter geometry.
const (
	// DefaultWindowSize is the number of readings averaged per output point.
	DefaultWindowSize = 3
	// DefaultDisplayCap bounds the retained display sequence.
	DefaultDisplayCap = 20
)

// Smoother maintains the smoothing buffer and the bounded display sequence.
// It is not safe for concurrent use; all access happens on the link's event
// dispatch goroutine.
type Smoother struct {
	window     int
	displayCap int
	buffer     []float64
	display    []float64
}

// NewSmoother creates a Smoother with the default window and display cap.
func NewSmoother() *Smoother {
	return &Smoother{window: DefaultWindowSize, displayCap: DefaultDisplayCap}
}

// NewSmootherWith creates a Smoother with explicit geometry, for callers
// that tune the filter.
func NewSmootherWith(window, displayCap int) *Smoother {
	if window < 1 {
		window = 1
	}
	if displayCap < 1 {
		displayCap = 1
	}
	return &Smoother{window: window, displayCap: displayCap}
}

// Append adds newly arrived raw readings to the buffer and, once the buffer
// has reached the window size, emits the mean of the most recent window
// entries to the display sequence. The buffer then slides forward by the
// number of readings that just arrived, so successive windows overlap.
func (s *Smoother) Append(readings []models.RawReading) {
	if len(readings) == 0 {
		return
	}
	for _, r := range readings {
		s.buffer = append(s.buffer, float64(r.Value))
	}

	if len(s.buffer) < s.window {
		return
	}

	var sum float64
	for _, v := range s.buffer[len(s.buffer)-s.window:] {
		sum += v
	}
	s.display = append(s.display, sum/float64(s.window))
	if excess := len(s.display) - s.displayCap; excess > 0 {
		s.display = s.display[excess:]
	}

	drop := len(readings)
	if drop > len(s.buffer) {
		drop = len(s.buffer)
	}
	s.buffer = s.buffer[drop:]
}

// Display returns a copy of the current display sequence, oldest first.
func (s *Smoother) Display() []float64 {
	out := make([]float64, len(s.display))
	copy(out, s.display)
	return out
}

// Reset clears the buffer and display sequence, for the start of a new
// recording.
func (s *Smoother) Reset() {
	s.buffer = s.buffer[:0]
	s.display = nil
}
