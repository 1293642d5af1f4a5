package sdhost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrowfield/sdhost/hwcmd"
	"github.com/arrowfield/sdhost/hwio"
)

func TestDispatchCommandWithoutData(t *testing.T) {
	fake := &fakeController{resp: [4]uint32{0x900}}
	e := newFakeEngine(fake)

	cmd := &Command{Opcode: hwcmd.SendStatus, Flags: hwcmd.RespPresent | hwcmd.RespCRC}
	state := stateSendingCmd

	e.dispatch(hwio.Event{Status: hwio.IntCmdDone}, cmd, &state)

	assert.Equal(t, stateIdle, state)
	assert.NoError(t, cmd.Err)
	assert.Equal(t, uint32(0x900), cmd.Response[0])
}

func TestDispatchCoalescedEventRunsToCompletion(t *testing.T) {
	// Command done, descriptor completion and data over can land in one
	// interrupt. The whole cascade has to resolve off that single event.
	fake := &fakeController{resp: [4]uint32{0x900}}
	e := newFakeEngine(fake)

	cmd := &Command{
		Opcode:   hwcmd.ReadSingleBlock,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC | hwcmd.Read,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	e.cursor = transferCursor{descRemaining: 1}
	state := stateSendingCmd

	e.dispatch(hwio.Event{
		Status:    hwio.IntCmdDone | hwio.IntDataOver,
		DMAStatus: hwio.DMARxDone | hwio.DMANormalSummary,
	}, cmd, &state)

	assert.Equal(t, stateIdle, state)
	assert.NoError(t, cmd.Err)
}

func TestDispatchCommandErrorSkipsDataPhase(t *testing.T) {
	fake := &fakeController{}
	e := newFakeEngine(fake)

	cmd := &Command{
		Opcode:   hwcmd.ReadSingleBlock,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC | hwcmd.Read,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	e.cursor = transferCursor{descRemaining: 1}
	state := stateSendingCmd

	e.dispatch(hwio.Event{Status: hwio.IntRespTimeout}, cmd, &state)

	assert.Equal(t, stateIdle, state)
	assert.ErrorIs(t, cmd.Err, ErrTimeout)
	assert.Equal(t, 1, fake.stopDMA)
}

func TestDispatchDataErrorAbortsAndDrains(t *testing.T) {
	fake := &fakeController{}
	e := newFakeEngine(fake)

	cmd := &Command{
		Opcode:   hwcmd.ReadMultiBlock,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC | hwcmd.Read,
		Data:     make([]byte, 1024),
		BlockLen: 512,
	}
	e.cursor = transferCursor{descRemaining: 1}
	state := stateSendingData

	// The error arrives alongside the completion already in flight
	e.dispatch(hwio.Event{
		Status:    hwio.IntDataCRCErr,
		DMAStatus: hwio.DMARxDone | hwio.DMANormalSummary,
	}, cmd, &state)
	assert.Equal(t, stateBusy, state)
	assert.ErrorIs(t, cmd.Err, ErrBadCRC)
	assert.Equal(t, 1, fake.stopDMA)

	e.dispatch(hwio.Event{Status: hwio.IntDataOver}, cmd, &state)
	assert.Equal(t, stateIdle, state)
	assert.ErrorIs(t, cmd.Err, ErrBadCRC)
}

func TestDispatchRefillsRingMidTransfer(t *testing.T) {
	fake := &fakeController{}
	e := newFakeEngine(fake)
	e.ring = newDescRing(e.l, 2, 4)

	cmd := &Command{
		Opcode:   hwcmd.ReadMultiBlock,
		Flags:    hwcmd.RespPresent | hwcmd.RespCRC | hwcmd.Read,
		Data:     make([]byte, 12),
		BlockLen: 4,
	}
	e.cursor = transferCursor{buf: cmd.Data, descRemaining: 3}
	e.ring.stage(&e.cursor, 2)
	state := stateSendingData

	// Device hands slot 0 back before raising its completion
	e.ring.desc[0].Complete()
	e.dispatch(hwio.Event{DMAStatus: hwio.DMARxDone | hwio.DMANormalSummary}, cmd, &state)

	assert.Equal(t, stateSendingData, state)
	assert.Equal(t, 2, e.cursor.descRemaining)
	assert.Empty(t, e.cursor.buf)
	assert.True(t, e.ring.desc[0].Last)
	assert.Equal(t, hwio.DeviceOwned, e.ring.desc[0].Owner())
}

func TestDispatchIgnoresStrayBits(t *testing.T) {
	fake := &fakeController{}
	e := newFakeEngine(fake)

	cmd := &Command{Opcode: hwcmd.SendStatus, Flags: hwcmd.RespPresent}
	state := stateSendingCmd

	// Nothing the sending-cmd state cares about
	e.dispatch(hwio.Event{Status: hwio.IntCardDetect}, cmd, &state)

	assert.Equal(t, stateSendingCmd, state)
	assert.NoError(t, cmd.Err)
}
