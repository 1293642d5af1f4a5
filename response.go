package sdhost

import (
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/hwcmd"
	"github.com/arrowfield/sdhost/hwio"
)

// respTimeoutOK is the policy table of opcodes for which a response timeout
// is a benign, expected outcome: identification probing, deselect by
// addressing another card, and stopping an already-stopped transfer all
// legitimately end without a response.
var respTimeoutOK = map[uint8]bool{
	hwcmd.AllSendCID:       true,
	hwcmd.SelectCard:       true,
	hwcmd.StopTransmission: true,
}

// decodeResponse copies the response registers into the command and
// classifies any command phase error in the status word. Long form responses
// arrive word-reversed from the registers; short form responses only carry
// word zero.
func (e *Engine) decodeResponse(status uint32, cmd *Command) {
	if cmd.Flags&hwcmd.RespPresent != 0 {
		r := e.hw.Response()
		if cmd.Flags&hwcmd.Resp136 != 0 {
			cmd.Response = [4]uint32{r[3], r[2], r[1], r[0]}
		} else {
			cmd.Response = [4]uint32{r[0], 0, 0, 0}
		}
	}

	switch {
	case status&hwio.IntRespTimeout != 0 && !respTimeoutOK[cmd.Opcode]:
		cmd.setErr(ErrTimeout)
	case cmd.Flags&hwcmd.RespCRC != 0 && status&hwio.IntRespCRCErr != 0:
		cmd.setErr(ErrBadCRC)
	case status&hwio.IntRespErr != 0:
		cmd.setErr(ErrInvalidResponse)
	}

	if cmd.Err != nil {
		if cmd.Data != nil {
			// Abandon the staged transfer, the data phase will never start
			e.hw.StopDMA()
		}
		e.cmdErrors.Inc(1)
		e.l.WithError(cmd.Err).WithFields(logrus.Fields{
			"opcode": cmd.Opcode,
			"status": status,
		}).Error("Command failed")
	}
}

// decodeDataStatus classifies a data phase error, in priority order, and
// resets the receive FIFO so the controller is clean for the next request.
func (e *Engine) decodeDataStatus(status uint32, cmd *Command) {
	if status&hwio.DataErrMask == 0 {
		return
	}

	switch {
	case status&hwio.IntDataTimeout != 0:
		cmd.setErr(ErrTimeout)
	case status&hwio.IntDataCRCErr != 0:
		cmd.setErr(ErrBadCRC)
	case status&hwio.IntEndBitErr != 0 && !cmd.read():
		// A missed write ack surfaces as an end bit error on this controller
		cmd.setErr(ErrTimeout)
	default:
		cmd.setErr(ErrFailed)
	}

	e.hw.ResetFIFO()
	e.dataErrors.Inc(1)
	e.l.WithError(cmd.Err).WithFields(logrus.Fields{
		"opcode": cmd.Opcode,
		"status": status,
	}).Error("Data phase failed")
}
