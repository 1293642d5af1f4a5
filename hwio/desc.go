package hwio

import (
	"fmt"
	"sync/atomic"
)

// Owner says which side of the hardware boundary controls a descriptor.
type Owner uint32

const (
	// CPUOwned descriptors may be filled by the engine.
	CPUOwned Owner = iota
	// DeviceOwned descriptors belong to the DMA engine until it completes them.
	DeviceOwned
)

func (o Owner) String() string {
	switch o {
	case CPUOwned:
		return "cpu"
	case DeviceOwned:
		return "device"
	}
	return "unknown"
}

// Desc is one slot of the DMA descriptor ring. The ownership token is the
// hardware handoff: the engine sets it device-owned when a slot is staged and
// the DMA side sets it back once the slot's buffer has been consumed. The
// token is atomic because the device side of a simulated controller runs on
// its own goroutine; everything else in the struct is written only while the
// slot is CPU owned and read only while it is device owned.
type Desc struct {
	owner atomic.Uint32

	// First and Last mark the logical ends of a transfer, not the ring.
	First bool
	Last  bool

	// Buf is the segment of the caller's buffer this slot covers.
	Buf []byte

	// Next chains to the following ring slot, nil on the chain terminator.
	Next *Desc
}

func (d *Desc) Owner() Owner {
	return Owner(d.owner.Load())
}

// HandToDevice transitions cpu -> device. Staging a slot the DMA engine still
// owns would corrupt an in-flight transfer, so any other starting state is a
// programming error.
func (d *Desc) HandToDevice() {
	if !d.owner.CompareAndSwap(uint32(CPUOwned), uint32(DeviceOwned)) {
		panic(fmt.Sprintf("hwio: handing %s-owned descriptor to device", d.Owner()))
	}
}

// Complete transitions device -> cpu. Called from the device side only.
func (d *Desc) Complete() {
	if !d.owner.CompareAndSwap(uint32(DeviceOwned), uint32(CPUOwned)) {
		panic(fmt.Sprintf("hwio: completing %s-owned descriptor", d.Owner()))
	}
}

// Reset returns the slot to a blank cpu-owned state.
func (d *Desc) Reset() {
	d.owner.Store(uint32(CPUOwned))
	d.First = false
	d.Last = false
	d.Buf = nil
	d.Next = nil
}
