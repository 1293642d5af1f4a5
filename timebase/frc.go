package timebase

import "sync"

// FRCSource converts a free running tick counter into microseconds.
// The division remainder is carried between reads so the result never
// drifts from ticks/frequency, whatever the read cadence.
type FRCSource struct {
	mu        sync.Mutex
	read      func() uint64
	ticksPerS int64

	lastTicks uint64
	micros    int64
	rem       int64
}

// NewFRCSource wraps read, a monotonic tick counter running at
// ticksPerSecond.
func NewFRCSource(read func() uint64, ticksPerSecond int64) *FRCSource {
	return &FRCSource{
		read:      read,
		ticksPerS: ticksPerSecond,
		lastTicks: read(),
	}
}

func (s *FRCSource) Micros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.micros
}

// Calibrate changes the tick frequency going forward. Elapsed time up
// to this call is settled at the old rate first.
func (s *FRCSource) Calibrate(ticksPerSecond int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	// Sub-microsecond carry is meaningless across a rate change
	s.rem = 0
	s.ticksPerS = ticksPerSecond
}

func (s *FRCSource) Calibration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticksPerS
}

// settle folds ticks elapsed since the last read into micros, holding
// the division remainder for the next call. Callers must hold mu.
func (s *FRCSource) settle() {
	now := s.read()
	num := int64(now-s.lastTicks)*1e6 + s.rem
	s.lastTicks = now

	s.micros += num / s.ticksPerS
	s.rem = num % s.ticksPerS
}
