package sdhost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrowfield/sdhost/hwio"
	"github.com/arrowfield/sdhost/test"
)

func TestStageChunksAndChains(t *testing.T) {
	r := newDescRing(test.NewLogger(), 4, 8)
	buf := make([]byte, 20)
	cur := transferCursor{buf: buf, descRemaining: 3}

	r.stage(&cur, 4)

	assert.Len(t, r.desc[0].Buf, 8)
	assert.Len(t, r.desc[1].Buf, 8)
	assert.Len(t, r.desc[2].Buf, 4)

	assert.Same(t, &r.desc[1], r.desc[0].Next)
	assert.Same(t, &r.desc[2], r.desc[1].Next)
	assert.Nil(t, r.desc[2].Next)

	assert.False(t, r.desc[0].Last)
	assert.False(t, r.desc[1].Last)
	assert.True(t, r.desc[2].Last)

	for i := 0; i < 3; i++ {
		assert.Equal(t, hwio.DeviceOwned, r.desc[i].Owner())
	}
	assert.Equal(t, hwio.CPUOwned, r.desc[3].Owner())

	assert.Empty(t, cur.buf)
	assert.Equal(t, 3, cur.nextDesc)
}

func TestStageStopsAtMax(t *testing.T) {
	r := newDescRing(test.NewLogger(), 4, 8)
	cur := transferCursor{buf: make([]byte, 32)}

	r.stage(&cur, 2)

	assert.Len(t, cur.buf, 16)
	assert.Equal(t, 2, cur.nextDesc)
	assert.Equal(t, hwio.CPUOwned, r.desc[2].Owner())
}

func TestStageWrapsTheRing(t *testing.T) {
	r := newDescRing(test.NewLogger(), 2, 4)
	cur := transferCursor{buf: make([]byte, 12)}

	r.stage(&cur, 2)
	assert.Len(t, cur.buf, 4)

	// The device hands slot 0 back, then the refill lands there
	r.desc[0].Complete()
	r.stage(&cur, 1)

	assert.Empty(t, cur.buf)
	assert.True(t, r.desc[0].Last)
	assert.Nil(t, r.desc[0].Next)
	assert.Equal(t, hwio.DeviceOwned, r.desc[0].Owner())
}

func TestStageIntoOwnedSlotPanics(t *testing.T) {
	r := newDescRing(test.NewLogger(), 2, 4)
	cur := transferCursor{buf: make([]byte, 12)}

	// The third slot wraps onto slot 0, which the device still holds
	assert.Panics(t, func() {
		r.stage(&cur, 3)
	})
}

func TestRingReset(t *testing.T) {
	r := newDescRing(test.NewLogger(), 2, 4)
	cur := transferCursor{buf: make([]byte, 8)}
	r.stage(&cur, 2)

	r.reset()

	for i := range r.desc {
		assert.Equal(t, hwio.CPUOwned, r.desc[i].Owner())
		assert.Nil(t, r.desc[i].Buf)
		assert.Nil(t, r.desc[i].Next)
		assert.False(t, r.desc[i].First)
		assert.False(t, r.desc[i].Last)
	}
}
