package hwio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/hwcmd"
)

// ownerPollInterval is how often the simulated DMA engine re-checks a slot it
// is waiting to be handed.
const ownerPollInterval = 20 * time.Microsecond

// Faults force the next command to fail in a specific way. Used by tests and
// by soak tooling to exercise the engine's error paths.
type Faults struct {
	RespTimeout bool
	RespCRC     bool
	RespErr     bool
	DataCRC     bool
	DataTimeout bool
}

type blockStore interface {
	io.ReaderAt
	io.WriterAt
}

// SimController is a software model of the host controller. Commands complete
// on an internal goroutine that plays the DMA engine's half of the descriptor
// ownership protocol: it waits for device-owned slots, moves the bytes
// against a backing card image, hands the slot back and raises the same
// events real hardware would.
type SimController struct {
	l     *logrus.Logger
	store blockStore
	size  int64

	mu       sync.Mutex
	events   chan<- Event
	head     *Desc
	blockLen int
	totalLen int
	faults   Faults
	resp     [4]uint32

	stop   atomic.Bool
	closed chan struct{}
	wg     sync.WaitGroup
	work   chan simCmd

	droppedEvents metrics.Counter
}

type simCmd struct {
	word     hwcmd.Word
	arg      uint32
	head     *Desc
	blockLen int
	totalLen int
	faults   Faults
}

type memStore []byte

func (m memStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m)) {
		return 0, errors.New("write beyond card")
	}
	return copy(m[off:], p), nil
}

// NewSimController builds a controller backed by an in-memory card image of
// the given size.
func NewSimController(l *logrus.Logger, size int64) *SimController {
	return &SimController{
		l:             l,
		store:         make(memStore, size),
		size:          size,
		droppedEvents: metrics.GetOrRegisterCounter("hwio.sim.dropped_events", nil),
	}
}

// NewSimControllerFile builds a controller backed by a card image file, so a
// soak run survives restarts.
func NewSimControllerFile(l *logrus.Logger, path string) (*SimController, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open card image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	l.WithField("image", path).WithField("bytes", fi.Size()).Info("Card image opened")
	return &SimController{
		l:             l,
		store:         f,
		size:          fi.Size(),
		droppedEvents: metrics.GetOrRegisterCounter("hwio.sim.dropped_events", nil),
	}, nil
}

// Size returns the card capacity in bytes.
func (s *SimController) Size() int64 {
	return s.size
}

// Inject arms fault injection for the next command.
func (s *SimController) Inject(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *SimController) Init(clockKHz int, events chan<- Event) error {
	if events == nil {
		return errors.New("nil event channel")
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	s.closed = make(chan struct{})
	s.work = make(chan simCmd)
	s.wg.Add(1)
	go s.run()

	s.l.WithField("clockKHz", clockKHz).Debug("Simulated controller initialized")
	return nil
}

func (s *SimController) StartCommand(word hwcmd.Word, arg uint32) {
	s.mu.Lock()
	c := simCmd{
		word:     word,
		arg:      arg,
		head:     s.head,
		blockLen: s.blockLen,
		totalLen: s.totalLen,
		faults:   s.faults,
	}
	s.head = nil
	s.faults = Faults{}
	s.mu.Unlock()

	select {
	case s.work <- c:
	case <-s.closed:
	}
}

func (s *SimController) PrepareTransfer(head *Desc, blockLen, totalLen int) {
	s.mu.Lock()
	s.head = head
	s.blockLen = blockLen
	s.totalLen = totalLen
	s.mu.Unlock()
}

func (s *SimController) StopDMA() {
	s.stop.Store(true)
}

func (s *SimController) ResetFIFO() {
	s.l.Debug("FIFO reset")
}

func (s *SimController) Response() [4]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp
}

func (s *SimController) Close() error {
	if s.closed != nil {
		close(s.closed)
		s.wg.Wait()
	}
	if f, ok := s.store.(*os.File); ok {
		return f.Close()
	}
	return nil
}

func (s *SimController) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case c := <-s.work:
			s.exec(c)
		}
	}
}

func (s *SimController) exec(c simCmd) {
	s.stop.Store(false)
	s.setResponse(c.word, c.arg)

	switch {
	case c.faults.RespTimeout:
		s.send(Event{Status: IntRespTimeout})
		return
	case c.faults.RespCRC:
		s.send(Event{Status: IntRespCRCErr | IntCmdDone})
		return
	case c.faults.RespErr:
		s.send(Event{Status: IntRespErr | IntCmdDone})
		return
	}

	s.send(Event{Status: IntCmdDone})

	if !c.word.DataExpected() || c.head == nil {
		return
	}

	err := s.runDMA(c)
	if err != nil {
		s.l.WithError(err).Warn("Transfer failed against card image")
		s.send(Event{Status: IntDataOver | IntDataTimeout})
		return
	}

	st := IntDataOver
	if c.faults.DataCRC {
		st |= IntDataCRCErr
	}
	if c.faults.DataTimeout {
		st |= IntDataTimeout
	}
	s.send(Event{Status: st})
}

// runDMA walks the descriptor chain the way the hardware engine does: one
// slot at a time, honoring the ownership token, raising one done event per
// consumed descriptor. Commands address the card in blocks. A store failure
// does not cut the chain short: the card stops answering but the engine still
// consumes every descriptor, so the drain continues and the failure is
// reported with the final data-over.
func (s *SimController) runDMA(c simCmd) error {
	offset := int64(c.arg) * int64(c.blockLen)
	write := c.word.IsWrite()

	done := DMARxDone
	if write {
		done = DMATxDone
	}

	var ioErr error
	d := c.head
	for d != nil {
		if !s.waitDeviceOwned(d) {
			return ioErr
		}

		if ioErr == nil {
			var err error
			if write {
				_, err = s.store.WriteAt(d.Buf, offset)
			} else {
				_, err = s.store.ReadAt(d.Buf, offset)
			}
			ioErr = err
			offset += int64(len(d.Buf))
		}

		last := d.Last
		next := d.Next
		d.Complete()
		s.send(Event{DMAStatus: done | DMANormalSummary})

		if last {
			return ioErr
		}
		d = next
	}
	return ioErr
}

// waitDeviceOwned blocks until the engine stages the slot. Returns false when
// the transfer was aborted or the controller closed.
func (s *SimController) waitDeviceOwned(d *Desc) bool {
	for d.Owner() != DeviceOwned {
		if s.stop.Load() {
			return false
		}
		select {
		case <-s.closed:
			return false
		case <-time.After(ownerPollInterval):
		}
	}
	return !s.stop.Load()
}

func (s *SimController) setResponse(word hwcmd.Word, arg uint32) {
	var r [4]uint32
	if word.RespExpected() {
		if word.RespLong() {
			// A canned CID style register, as the card would shift it out.
			r = [4]uint32{0x12000145, 0x52524f57, 0x46494c44, 0x53443247}
		} else {
			// Ready-for-data card status.
			r[0] = 0x00000900
			_ = arg
		}
	}

	s.mu.Lock()
	s.resp = r
	s.mu.Unlock()
}

// send must never block: the interrupt side drops rather than stalls when the
// engine falls behind.
func (s *SimController) send(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.droppedEvents.Inc(1)
		s.l.WithField("event", evt).Warn("Event queue full, dropping event")
	}
}
