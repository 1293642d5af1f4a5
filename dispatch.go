package sdhost

import (
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/hwio"
)

// reqState is the protocol state for one in-flight command.
type reqState uint8

const (
	stateIdle reqState = iota
	stateSendingCmd
	stateSendingData
	stateBusy
)

func (s reqState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateSendingCmd:
		return "SENDING_CMD"
	case stateSendingData:
		return "SENDING_DATA"
	case stateBusy:
		return "BUSY"
	}
	return "UNKNOWN"
}

// consume reports whether any bit of mask is set in bits and clears them, so
// a later pass over the same event does not act on them twice.
func consume(bits *uint32, mask uint32) bool {
	hit := *bits&mask != 0
	*bits &^= mask
	return hit
}

// step runs a single pass of the state machine over evt, consuming the bits
// it acts on. orig carries the event's full status for the decoders, which
// classify against the unconsumed word.
func (e *Engine) step(state reqState, evt *hwio.Event, orig hwio.Event, cmd *Command) reqState {
	switch state {
	case stateSendingCmd:
		if consume(&evt.Status, hwio.CmdErrMask) {
			e.decodeResponse(orig.Status, cmd)
			return stateIdle
		}
		if !consume(&evt.Status, hwio.IntCmdDone) {
			return state
		}
		e.decodeResponse(orig.Status, cmd)
		if cmd.Err != nil || cmd.Data == nil {
			return stateIdle
		}
		return stateSendingData

	case stateSendingData:
		if consume(&evt.Status, hwio.DataErrMask) {
			e.decodeDataStatus(orig.Status, cmd)
			// Completions already in flight still drain below
			e.hw.StopDMA()
		}
		if consume(&evt.DMAStatus, hwio.DMADoneMask) {
			e.cursor.descRemaining--
			if len(e.cursor.buf) > 0 {
				e.ring.stage(&e.cursor, 1)
			}
			if e.cursor.descRemaining == 0 {
				return stateBusy
			}
		}
		return state

	case stateBusy:
		if !consume(&evt.Status, hwio.IntDataOver) {
			return state
		}
		e.decodeDataStatus(orig.Status, cmd)
		return stateIdle
	}

	return state
}

// dispatch feeds one event through the state machine, re-evaluating the same
// event against each new state until a pass changes nothing. Command and data
// completion can coalesce into a single event; without the re-evaluation a
// bit meant for a later state would be lost and the engine would stall.
func (e *Engine) dispatch(evt hwio.Event, cmd *Command, state *reqState) {
	orig := evt
	for {
		prev := *state
		next := e.step(prev, &evt, orig, cmd)
		if e.l.Level >= logrus.TraceLevel {
			e.l.WithFields(logrus.Fields{
				"prev":  prev.String(),
				"state": next.String(),
				"event": orig.String(),
			}).Trace("Dispatch pass")
		}
		*state = next
		if next == prev {
			return
		}
	}
}
