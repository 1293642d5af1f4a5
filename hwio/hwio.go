// Package hwio is the boundary between the transfer engine and the host
// controller hardware. The engine only ever talks to a Controller and reads
// the interrupt status words carried by Event; everything below that line
// (register programming, clocking, the interrupt vector) lives behind the
// implementation.
package hwio

import (
	"fmt"

	"github.com/arrowfield/sdhost/hwcmd"
)

// Controller interrupt status bits, as delivered in Event.Status.
const (
	IntCardDetect   uint32 = 1 << 0
	IntRespErr      uint32 = 1 << 1
	IntCmdDone      uint32 = 1 << 2
	IntDataOver     uint32 = 1 << 3
	IntTxRequest    uint32 = 1 << 4
	IntRxRequest    uint32 = 1 << 5
	IntRespCRCErr   uint32 = 1 << 6
	IntDataCRCErr   uint32 = 1 << 7
	IntRespTimeout  uint32 = 1 << 8
	IntDataTimeout  uint32 = 1 << 9
	IntHostTimeout  uint32 = 1 << 10
	IntFIFOOverrun  uint32 = 1 << 11
	IntHardwareLock uint32 = 1 << 12
	IntStartBitErr  uint32 = 1 << 13
	IntAutoCmdDone  uint32 = 1 << 14
	IntEndBitErr    uint32 = 1 << 15
)

// DMA engine status bits, as delivered in Event.DMAStatus.
const (
	DMATxDone          uint32 = 1 << 0
	DMARxDone          uint32 = 1 << 1
	DMAFatalBusErr     uint32 = 1 << 2
	DMADescUnavail     uint32 = 1 << 4
	DMACardErr         uint32 = 1 << 5
	DMANormalSummary   uint32 = 1 << 8
	DMAAbnormalSummary uint32 = 1 << 9
)

// Derived masks the engine classifies against.
const (
	// CmdErrMask covers everything that can go wrong while waiting for a
	// command response.
	CmdErrMask = IntRespTimeout | IntRespCRCErr | IntRespErr

	// DataErrMask covers the data phase error conditions.
	DataErrMask = IntDataTimeout | IntDataCRCErr | IntHostTimeout | IntStartBitErr | IntEndBitErr

	// DMADoneMask is set once per consumed descriptor.
	DMADoneMask = DMATxDone | DMARxDone | DMANormalSummary
)

// Event is one interrupt's worth of status, read and cleared by the handler
// and pushed to the engine. Multiple condition bits may be set at once.
type Event struct {
	Status    uint32
	DMAStatus uint32
}

func (e Event) String() string {
	return fmt.Sprintf("status=%#08x dma=%#08x", e.Status, e.DMAStatus)
}

// Controller is the hardware a transfer engine drives. Implementations own
// the interrupt side: after Init they are the sole sender on the event
// channel, sends must never block, and an event that does not fit is dropped
// (the implementation should count and log the drop).
type Controller interface {
	// Init performs one time hardware setup and hands over the channel
	// interrupt events will be delivered on.
	Init(clockKHz int, events chan<- Event) error

	// StartCommand issues the command on the card bus. Results arrive only
	// through later events.
	StartCommand(word hwcmd.Word, arg uint32)

	// PrepareTransfer programs the DMA engine with the head of a staged
	// descriptor chain.
	PrepareTransfer(head *Desc, blockLen, totalLen int)

	// StopDMA aborts an in-flight transfer. Idempotent.
	StopDMA()

	// ResetFIFO clears the controller's receive FIFO after a data error.
	ResetFIFO()

	// Response reads the four response registers captured by the last
	// completed command.
	Response() [4]uint32

	Close() error
}
