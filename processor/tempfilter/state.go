package tempfilter

import (
	"math"
	"sync/atomic"
)

// FilterState is the process-wide threshold and ingress sequence counter.
// It is shared by the stage, which reads the threshold, and the
// configuration channel, which writes it. All access is atomic.
type FilterState struct {
	threshold atomic.Uint64 // IEEE-754 bits
	sequence  atomic.Uint64
}

// NewFilterState creates state with the given starting threshold and a
// sequence counter at zero
func NewFilterState(defaultThreshold float64) *FilterState {
	s := &FilterState{}
	s.threshold.Store(math.Float64bits(defaultThreshold))
	return s
}

// Threshold returns the current threshold
func (s *FilterState) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// SetThreshold replaces the threshold and returns the previous value
func (s *FilterState) SetThreshold(v float64) float64 {
	return math.Float64frombits(s.threshold.Swap(math.Float64bits(v)))
}

// NextSequence advances the counter and returns its value before the
// increment, so the first event receives 0.
func (s *FilterState) NextSequence() uint64 {
	return s.sequence.Add(1) - 1
}

// Sequence returns the number of events counted so far
func (s *FilterState) Sequence() uint64 {
	return s.sequence.Load()
}
