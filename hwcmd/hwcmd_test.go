package hwcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type encodeTest struct {
	name    string
	opcode  uint8
	flags   Flags
	datalen int
	blklen  int
	want    Word
}

var encodeTests = []encodeTest{
	{
		name:   "no response no data",
		opcode: GoIdleState,
		// wait-prvdata (13) + use-hold (29) + card 1 (16)
		want: 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:   "short response with crc",
		opcode: SendStatus,
		flags:  RespPresent | RespCRC,
		want:   13 | 1<<6 | 1<<8 | 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:   "long response",
		opcode: AllSendCID,
		flags:  RespPresent | Resp136,
		want:   2 | 1<<6 | 1<<7 | 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:    "single block read",
		opcode:  ReadSingleBlock,
		flags:   RespPresent | RespCRC | Read,
		datalen: 512,
		blklen:  512,
		want:    17 | 1<<6 | 1<<8 | 1<<9 | 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:    "multi block read gets auto stop",
		opcode:  ReadMultiBlock,
		flags:   RespPresent | RespCRC | Read,
		datalen: 1024,
		blklen:  512,
		want:    18 | 1<<6 | 1<<8 | 1<<9 | 1<<12 | 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:    "single block write sets rw",
		opcode:  WriteBlock,
		flags:   RespPresent | RespCRC,
		datalen: 512,
		blklen:  512,
		want:    24 | 1<<6 | 1<<8 | 1<<9 | 1<<10 | 1<<13 | 1<<29 | 1<<16,
	},
	{
		name:   "stop transmission uses abort not wait",
		opcode: StopTransmission,
		flags:  RespPresent | RespCRC,
		want:   12 | 1<<6 | 1<<8 | 1<<14 | 1<<29 | 1<<16,
	},
	{
		name:   "bus width acmd forces data and auto stop",
		opcode: SetBusWidth,
		flags:  RespPresent | RespCRC,
		want:   6 | 1<<6 | 1<<8 | 1<<9 | 1<<12 | 1<<13 | 1<<29 | 1<<16,
	},
}

func TestEncode(t *testing.T) {
	for _, tt := range encodeTests {
		got := Encode(tt.opcode, tt.flags, tt.datalen, tt.blklen)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestWordAccessors(t *testing.T) {
	w := Encode(ReadMultiBlock, RespPresent|RespCRC|Read, 2048, 512)

	assert.Equal(t, ReadMultiBlock, w.Opcode())
	assert.True(t, w.RespExpected())
	assert.False(t, w.RespLong())
	assert.True(t, w.CheckRespCRC())
	assert.True(t, w.DataExpected())
	assert.False(t, w.IsWrite())
	assert.True(t, w.AutoStop())
	assert.False(t, w.StopAbort())
	assert.True(t, w.WaitPrvData())
	assert.Equal(t, 1, w.Card())

	w = Encode(WriteMultiBlock, RespPresent|RespCRC, 2048, 512)
	assert.True(t, w.IsWrite())
}

func TestWordString(t *testing.T) {
	w := Encode(ReadSingleBlock, RespPresent|RespCRC|Read, 512, 512)
	assert.Equal(
		t,
		"opcode=17 resp=true long=false crc=true data=true write=false autostop=false abort=false card=1",
		w.String(),
	)
}
