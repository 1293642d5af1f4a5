package sdhost

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/config"
	"github.com/arrowfield/sdhost/hwcmd"
)

// Exerciser drives a continuous write/read/verify workload against an
// Engine. It exists to soak the request path and surface protocol or
// DMA bugs under sustained load.
type Exerciser struct {
	l        *logrus.Logger
	eng      *Engine
	blocks   int
	blockLen int
	interval time.Duration
	rng      *rand.Rand

	passes     metrics.Counter
	failures   metrics.Counter
	mismatches metrics.Counter
}

func NewExerciser(l *logrus.Logger, eng *Engine, c *config.C) *Exerciser {
	return &Exerciser{
		l:        l,
		eng:      eng,
		blocks:   c.GetInt("workload.blocks", 8),
		blockLen: c.GetInt("workload.block_len", 512),
		interval: c.GetDuration("workload.interval", time.Second),
		rng:      rand.New(rand.NewSource(c.GetInt64("workload.seed", time.Now().UnixNano()))),

		passes:     metrics.GetOrRegisterCounter("exerciser.passes", nil),
		failures:   metrics.GetOrRegisterCounter("exerciser.failures", nil),
		mismatches: metrics.GetOrRegisterCounter("exerciser.mismatches", nil),
	}
}

// Run loops until ctx is cancelled. Each pass writes a randomized
// pattern to a random block run, reads it back, and compares.
func (x *Exerciser) Run(ctx context.Context) {
	t := time.NewTicker(x.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if err := x.pass(); err != nil {
			x.l.WithError(err).Error("Exerciser pass failed")
		}
	}
}

func (x *Exerciser) pass() error {
	n := 1 + x.rng.Intn(x.blocks)
	start := uint32(x.rng.Intn(x.blocks))

	out := make([]byte, n*x.blockLen)
	x.rng.Read(out)
	// Stamp the block address into the head of each block so a
	// misdirected write is distinguishable from a stale read.
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*x.blockLen:], start+uint32(i))
	}

	wop := uint8(hwcmd.WriteBlock)
	rop := uint8(hwcmd.ReadSingleBlock)
	if n > 1 {
		wop = hwcmd.WriteMultiBlock
		rop = hwcmd.ReadMultiBlock
	}

	wr := &Command{
		Opcode:   wop,
		Arg:      start,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC,
		Data:     out,
		BlockLen: x.blockLen,
	}
	if err := x.eng.Run(wr); err != nil {
		return err
	}
	if wr.Err != nil {
		// The byte compare is meaningless once the command itself failed
		x.failures.Inc(1)
		return fmt.Errorf("write at block %d: %w", start, wr.Err)
	}

	in := make([]byte, n*x.blockLen)
	rd := &Command{
		Opcode:   rop,
		Arg:      start,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC | hwcmd.Read,
		Data:     in,
		BlockLen: x.blockLen,
	}
	if err := x.eng.Run(rd); err != nil {
		return err
	}
	if rd.Err != nil {
		x.failures.Inc(1)
		return fmt.Errorf("read at block %d: %w", start, rd.Err)
	}

	if !bytes.Equal(out, in) {
		x.mismatches.Inc(1)
		x.l.WithField("start", start).WithField("blocks", n).
			Error("Exerciser readback mismatch")
		return ErrFailed
	}

	x.passes.Inc(1)
	x.l.WithField("start", start).WithField("blocks", n).Debug("Exerciser pass ok")
	return nil
}
