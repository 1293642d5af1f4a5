package sdhost

import (
	"errors"
	"fmt"

	"github.com/arrowfield/sdhost/hwcmd"
)

// Errors recorded on Command.Err by the decoders. Retry policy belongs to the
// layer above; the engine reports and moves on.
var (
	ErrTimeout         = errors.New("timed out waiting for the card")
	ErrBadCRC          = errors.New("crc check failed")
	ErrInvalidResponse = errors.New("invalid response")
	ErrFailed          = errors.New("transfer failed")
)

// Command describes one card command. The caller owns it for the duration of
// a single Run call; Response and Err are filled in on completion.
type Command struct {
	Opcode uint8
	Arg    uint32
	Flags  hwcmd.Flags

	// Data, when non-nil, attaches a transfer. Its length must be a positive
	// multiple of BlockLen and at least 4 bytes.
	Data     []byte
	BlockLen int

	Response [4]uint32
	Err      error
}

func (c *Command) read() bool {
	return c.Flags&hwcmd.Read != 0
}

// setErr keeps the first classified error for the command.
func (c *Command) setErr(err error) {
	if c.Err == nil {
		c.Err = err
	}
}

// validate enforces the data phase contract. Run rejects before any hardware
// interaction, so a bad command has no side effects.
func (c *Command) validate() error {
	if c.Data == nil {
		return nil
	}
	if len(c.Data) < 4 {
		return fmt.Errorf("data length %d below minimum of 4", len(c.Data))
	}
	if c.BlockLen <= 0 || c.BlockLen%4 != 0 {
		return fmt.Errorf("block length %d is not a positive multiple of 4", c.BlockLen)
	}
	if len(c.Data)%c.BlockLen != 0 {
		return fmt.Errorf("data length %d is not a multiple of block length %d", len(c.Data), c.BlockLen)
	}
	return nil
}

func (c *Command) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("opcode=%d arg=%#x flags=%#x datalen=%d blklen=%d",
		c.Opcode, c.Arg, c.Flags, len(c.Data), c.BlockLen)
}
