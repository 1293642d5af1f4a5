package sdhost

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/hwio"
)

// transferCursor is the per-request bookkeeping for a data phase: the
// unstaged remainder of the caller's buffer, where the next fill lands in the
// ring, and how many descriptors the DMA engine still owes us.
type transferCursor struct {
	buf           []byte
	nextDesc      int
	descRemaining int
}

// descRing owns the fixed ring of DMA descriptors. Filled slots belong to the
// DMA engine until it completes them; the ownership token on each slot is the
// only thing that crosses the hardware boundary.
type descRing struct {
	desc   []hwio.Desc
	maxLen int

	l      *logrus.Logger
	staged metrics.Counter
}

func newDescRing(l *logrus.Logger, slots, maxLen int) *descRing {
	return &descRing{
		desc:   make([]hwio.Desc, slots),
		maxLen: maxLen,
		l:      l,
		staged: metrics.GetOrRegisterCounter("engine.descriptors_staged", nil),
	}
}

func (r *descRing) head() *hwio.Desc {
	return &r.desc[0]
}

// reset returns every slot to a blank cpu-owned state ahead of a new transfer.
func (r *descRing) reset() {
	for i := range r.desc {
		r.desc[i].Reset()
	}
}

// stage fills up to max slots from the cursor, each at most maxLen bytes,
// advancing the write position modulo the ring. The slot that exhausts the
// buffer becomes the chain terminator; every other slot chains to the next
// ring index. Each filled slot is handed to the DMA engine before the next is
// considered.
func (r *descRing) stage(cur *transferCursor, max int) {
	for i := 0; i < max; i++ {
		if len(cur.buf) == 0 {
			return
		}

		next := cur.nextDesc
		d := &r.desc[next]
		if owner := d.Owner(); owner != hwio.CPUOwned {
			panic(fmt.Sprintf("sdhost: staging into %s-owned ring slot %d", owner, next))
		}

		size := len(cur.buf)
		if size > r.maxLen {
			size = r.maxLen
		}
		last := size == len(cur.buf)

		d.Last = last
		d.Buf = cur.buf[:size]
		if last {
			d.Next = nil
		} else {
			d.Next = &r.desc[(next+1)%len(r.desc)]
		}
		d.HandToDevice()

		cur.buf = cur.buf[size:]
		cur.nextDesc = (next + 1) % len(r.desc)
		r.staged.Inc(1)

		if r.l.Level >= logrus.DebugLevel {
			r.l.WithFields(logrus.Fields{
				"slot":      next,
				"size":      size,
				"last":      last,
				"remaining": len(cur.buf),
			}).Debug("Staged descriptor")
		}
	}
}
