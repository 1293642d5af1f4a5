package timebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTicks struct {
	n uint64
}

func (f *fakeTicks) read() uint64 { return f.n }

func TestFRCSourceNoDrift(t *testing.T) {
	// 3 ticks per microsecond does not divide evenly per read when
	// advancing one tick at a time
	ticks := &fakeTicks{}
	src := NewFRCSource(ticks.read, 3_000_000)

	for i := 0; i < 3_000_000; i++ {
		ticks.n++
		src.Micros()
	}

	// One full second of ticks must land on exactly one second
	assert.Equal(t, int64(1_000_000), src.Micros())
}

func TestFRCSourceBulkMatchesIncremental(t *testing.T) {
	a := &fakeTicks{}
	inc := NewFRCSource(a.read, 7)
	b := &fakeTicks{}
	bulk := NewFRCSource(b.read, 7)

	for i := 0; i < 1000; i++ {
		a.n++
		inc.Micros()
	}
	b.n += 1000

	assert.Equal(t, bulk.Micros(), inc.Micros())
}

func TestFRCSourceCalibrate(t *testing.T) {
	ticks := &fakeTicks{}
	src := NewFRCSource(ticks.read, 1_000_000)

	ticks.n += 500_000
	assert.Equal(t, int64(500_000), src.Micros())

	// Halving the rate doubles the ratio for future ticks only
	src.Calibrate(500_000)
	assert.Equal(t, int64(500_000), src.Calibration())

	ticks.n += 500_000
	assert.Equal(t, int64(1_500_000), src.Micros())
}

type fixedSource struct {
	us int64
}

func (f *fixedSource) Micros() int64 { return f.us }

func TestClockSetTime(t *testing.T) {
	src := &fixedSource{us: 1_000_000}
	c := NewClock(src)

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetTime(want)
	assert.Equal(t, want.UnixMicro(), c.Now().UnixMicro())

	// Wall time moves with uptime
	src.us += 2_500_000
	assert.Equal(t, want.Add(2500*time.Millisecond).UnixMicro(), c.Now().UnixMicro())

	// Setting the clock never disturbs uptime
	assert.Equal(t, 3500*time.Millisecond, c.Uptime())
}

func TestClockDefaultsNearWallClock(t *testing.T) {
	c := NewClock(SystemSource{})
	d := time.Since(c.Now())
	assert.Less(t, d.Abs(), time.Second)
}
