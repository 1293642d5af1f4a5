package sdhost

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/config"
	"github.com/arrowfield/sdhost/hwcmd"
	"github.com/arrowfield/sdhost/hwio"
)

const (
	defaultClockKHz   = 40000
	defaultEventQueue = 32
	defaultRingSlots  = 4
	defaultMaxDescLen = 4096
)

// Engine executes card commands against a host controller. One instance owns
// the descriptor ring, the transfer cursor and the consumer end of the event
// channel; because it is the sole mutator of all three, no locking is needed
// beyond the channel itself. One command may be in flight at a time — callers
// must not call Run concurrently.
type Engine struct {
	hw     hwio.Controller
	events chan hwio.Event
	ring   *descRing
	cursor transferCursor

	l *logrus.Logger

	commandsRun metrics.Counter
	cmdErrors   metrics.Counter
	dataErrors  metrics.Counter
	idleEvents  metrics.Counter
}

// NewEngine allocates the event channel, wires it to the controller and
// brings the hardware up. A controller that fails to initialize leaves the
// engine unusable; the error is returned as-is.
func NewEngine(l *logrus.Logger, ctrl hwio.Controller, c *config.C) (*Engine, error) {
	slots := c.GetInt("host.ring_descriptors", defaultRingSlots)
	maxLen := c.GetInt("host.max_desc_len", defaultMaxDescLen)
	queue := c.GetInt("host.event_queue", defaultEventQueue)
	if slots < 1 || maxLen < 4 || queue < 1 {
		return nil, fmt.Errorf("invalid host geometry: ring_descriptors=%d max_desc_len=%d event_queue=%d", slots, maxLen, queue)
	}

	e := &Engine{
		hw:          ctrl,
		events:      make(chan hwio.Event, queue),
		ring:        newDescRing(l, slots, maxLen),
		l:           l,
		commandsRun: metrics.GetOrRegisterCounter("engine.commands", nil),
		cmdErrors:   metrics.GetOrRegisterCounter("engine.command_errors", nil),
		dataErrors:  metrics.GetOrRegisterCounter("engine.data_errors", nil),
		idleEvents:  metrics.GetOrRegisterCounter("engine.unhandled_idle_events", nil),
	}

	if err := ctrl.Init(c.GetInt("host.clock_khz", defaultClockKHz), e.events); err != nil {
		return nil, fmt.Errorf("failed to initialize controller: %w", err)
	}

	l.WithFields(logrus.Fields{
		"ringDescriptors": slots,
		"maxDescLen":      maxLen,
		"eventQueue":      queue,
	}).Info("Transfer engine up")
	return e, nil
}

// Run executes one command to completion, blocking between interrupt events.
// The returned error covers setup problems only (a malformed data contract,
// caught before any hardware interaction); command and data phase outcomes
// land on cmd.Err, which is the authoritative per-command result.
func (e *Engine) Run(cmd *Command) error {
	e.drainIdle()

	if err := cmd.validate(); err != nil {
		return err
	}

	word := hwcmd.Encode(cmd.Opcode, cmd.Flags, len(cmd.Data), cmd.BlockLen)

	if cmd.Data != nil {
		e.ring.reset()
		e.ring.head().First = true
		e.cursor = transferCursor{
			buf:           cmd.Data,
			descRemaining: (len(cmd.Data) + e.ring.maxLen - 1) / e.ring.maxLen,
		}
		e.ring.stage(&e.cursor, len(e.ring.desc))
		e.hw.PrepareTransfer(e.ring.head(), cmd.BlockLen, len(cmd.Data))
	}

	e.hw.StartCommand(word, cmd.Arg)
	e.commandsRun.Inc(1)

	cmd.Err = nil
	state := stateSendingCmd
	for state != stateIdle {
		evt := <-e.events
		e.dispatch(evt, cmd, &state)
	}

	return nil
}

// drainIdle disposes of events that accumulated between commands without
// blocking. Card detect toggles are expected background noise while idle;
// anything else gets logged since nothing will ever act on it.
func (e *Engine) drainIdle() {
	for {
		select {
		case evt := <-e.events:
			if evt.Status&hwio.IntCardDetect != 0 {
				e.l.Debug("Card detect toggled while idle")
				evt.Status &^= hwio.IntCardDetect
			}
			if evt.Status != 0 || evt.DMAStatus != 0 {
				e.idleEvents.Inc(1)
				e.l.WithField("event", evt.String()).Error("Unhandled idle event")
			}
		default:
			return
		}
	}
}

// Close tears down the controller. No command may be in flight.
func (e *Engine) Close() error {
	return e.hw.Close()
}
