package hwcmd

import (
	"fmt"
)

//Command register layout:
// 0                                                                       31
// |-----------------------------------------------------------------------|
// | Index (uint6) | RespExpect | RespLong | CheckRespCRC | DataExpected   |
// | Write | StreamMode | SendAutoStop | WaitPrvData | StopAbort | SendInit|
// |       Card number [20:16]       | ... | UseHoldReg (29) | Start (31)  |
// |-----------------------------------------------------------------------|

type Word uint32

const (
	indexMask Word = 0x3f

	respExpect   Word = 1 << 6
	respLong     Word = 1 << 7
	checkRespCRC Word = 1 << 8
	dataExpected Word = 1 << 9
	write        Word = 1 << 10
	streamMode   Word = 1 << 11
	sendAutoStop Word = 1 << 12
	waitPrvData  Word = 1 << 13
	stopAbort    Word = 1 << 14
	sendInit     Word = 1 << 15

	cardNumShift      = 16
	cardNumMask  Word = 0x1f << cardNumShift

	useHoldReg Word = 1 << 29
)

// CardNum is the selector value for the single supported slot.
const CardNum = 1

// Flags describe what a command expects back from the card and which
// direction an attached data transfer moves.
type Flags uint16

const (
	// RespPresent means the card will answer with a response.
	RespPresent Flags = 1 << 0
	// Resp136 marks the response as long form (136 bits instead of 48).
	Resp136 Flags = 1 << 1
	// RespCRC asks the controller to verify the response CRC.
	RespCRC Flags = 1 << 2
	// Read marks an attached data buffer as card-to-host. Absent means write.
	Read Flags = 1 << 3
)

// Card command indexes used by this layer. The exception rules in the
// response decoder and the encoder quirks below key off these.
const (
	GoIdleState      uint8 = 0
	AllSendCID       uint8 = 2
	SetRelativeAddr  uint8 = 3
	SetBusWidth      uint8 = 6
	SelectCard       uint8 = 7
	SendCSD          uint8 = 9
	StopTransmission uint8 = 12
	SendStatus       uint8 = 13
	SetBlockLen      uint8 = 16
	ReadSingleBlock  uint8 = 17
	ReadMultiBlock   uint8 = 18
	WriteBlock       uint8 = 24
	WriteMultiBlock  uint8 = 25
	AppCmd           uint8 = 55
)

// Encode builds the control word the controller consumes for one command.
// datalen of zero means no data phase. The caller guarantees datalen is an
// exact multiple of blklen; Encode only derives the auto-stop flag from it.
func Encode(opcode uint8, flags Flags, datalen, blklen int) Word {
	w := Word(opcode) & indexMask

	if opcode == StopTransmission {
		w |= stopAbort
	} else {
		w |= waitPrvData
	}

	// Controller quirk: the bus width ACMD moves its payload on the data
	// lines even though no buffer is attached to the command.
	if opcode == SetBusWidth {
		w |= sendAutoStop | dataExpected
	}

	if flags&RespPresent != 0 {
		w |= respExpect
		if flags&Resp136 != 0 {
			w |= respLong
		}
	}
	if flags&RespCRC != 0 {
		w |= checkRespCRC
	}

	w |= useHoldReg

	if datalen > 0 {
		w |= dataExpected
		if flags&Read == 0 {
			w |= write
		}
		if blklen > 0 && datalen/blklen > 1 {
			w |= sendAutoStop
		}
	}

	w |= CardNum << cardNumShift
	return w
}

// Opcode extracts the command index.
func (w Word) Opcode() uint8 {
	return uint8(w & indexMask)
}

func (w Word) RespExpected() bool {
	return w&respExpect != 0
}

func (w Word) RespLong() bool {
	return w&respLong != 0
}

func (w Word) CheckRespCRC() bool {
	return w&checkRespCRC != 0
}

func (w Word) DataExpected() bool {
	return w&dataExpected != 0
}

// IsWrite reports host-to-card direction for the data phase.
func (w Word) IsWrite() bool {
	return w&write != 0
}

func (w Word) AutoStop() bool {
	return w&sendAutoStop != 0
}

func (w Word) StopAbort() bool {
	return w&stopAbort != 0
}

func (w Word) WaitPrvData() bool {
	return w&waitPrvData != 0
}

func (w Word) Card() int {
	return int((w & cardNumMask) >> cardNumShift)
}

// String creates a readable string representation of a command word
func (w Word) String() string {
	return fmt.Sprintf("opcode=%d resp=%v long=%v crc=%v data=%v write=%v autostop=%v abort=%v card=%d",
		w.Opcode(), w.RespExpected(), w.RespLong(), w.CheckRespCRC(), w.DataExpected(),
		w.IsWrite(), w.AutoStop(), w.StopAbort(), w.Card())
}
