// Package timebase keeps wall-clock and uptime accounting on top of a
// monotonic microsecond source, the way an embedded host derives time
// from a free running counter plus a settable boot offset.
package timebase

import (
	"sync"
	"time"
)

// Source reports microseconds elapsed since boot. Implementations must
// be monotonic.
type Source interface {
	Micros() int64
}

var processStart = time.Now()

// SystemSource derives uptime from the process monotonic clock.
type SystemSource struct{}

func (SystemSource) Micros() int64 {
	return time.Since(processStart).Microseconds()
}

// Clock layers a settable wall-clock epoch over a Source. Now moves
// with the source; SetTime only shifts the boot offset so uptime is
// unaffected by time adjustments.
type Clock struct {
	mu   sync.Mutex
	src  Source
	boot int64
}

func NewClock(src Source) *Clock {
	return &Clock{
		src:  src,
		boot: time.Now().UnixMicro() - src.Micros(),
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	boot := c.boot
	c.mu.Unlock()
	return time.UnixMicro(boot + c.src.Micros())
}

func (c *Clock) SetTime(t time.Time) {
	c.mu.Lock()
	c.boot = t.UnixMicro() - c.src.Micros()
	c.mu.Unlock()
}

func (c *Clock) Uptime() time.Duration {
	return time.Duration(c.src.Micros()) * time.Microsecond
}
