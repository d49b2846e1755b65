package directnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRC(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(byte(0), LRC(nil))
	assert.Equal(byte(0x11^0x22^0x33^0x44), LRC([]byte{0x11, 0x22, 0x33, 0x44}))

	data := []byte("DirectNet block payload 0123456789")
	want := LRC(data)
	for i := range data {
		for bit := range 8 {
			data[i] ^= 1 << bit
			assert.NotEqual(want, LRC(data), "flip byte %d bit %d", i, bit)
			data[i] ^= 1 << bit
		}
	}
}

func TestHeader_Pack(t *testing.T) {
	require := require.New(t)

	frame := Header{Command: OpReadVMem.WithSlave(1), Address: 1, Length: 4}.Pack()
	require.Len(frame, HeaderLen)
	require.Equal(SOH, frame[0])
	require.Equal("01010001000400", string(frame[1:15]))
	require.Equal(ETB, frame[15])
	require.Equal(LRC(frame[1:16]), frame[16])

	frame = Header{Command: 0xABCD, Address: 0xEF01, Length: 0x2345, Originator: 0x6F}.Pack()
	require.Equal("ABCDEF0123456F", string(frame[1:15]))
}

func TestHeader_RoundTrip(t *testing.T) {
	tests := []Header{
		{},
		{Command: OpReadVMem.WithSlave(1), Address: 1, Length: 4, Originator: MasterID},
		{Command: OpWriteScratchpad.WithSlave(90), Address: 0x4000, Length: 256},
		{Command: 0xFFFF, Address: 0xFFFF, Length: 0xFFFF, Originator: 0xFF},
		{Command: 0x1234, Address: 0x00FF, Length: 0x0100, Originator: 0x7F},
	}

	for _, want := range tests {
		got, err := ParseHeader(want.Pack())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseHeader_Errors(t *testing.T) {
	good := Header{Command: OpReadInputs.WithSlave(3), Address: 0x10, Length: 8}.Pack()

	tests := []struct {
		name    string
		mutate  func(f []byte) []byte
		wantErr error
	}{
		{"short", func(f []byte) []byte { return f[:HeaderLen-1] }, ErrInvalidFrame},
		{"no SOH", func(f []byte) []byte { f[0] = STX; return f }, ErrInvalidFrame},
		{"no ETB", func(f []byte) []byte { f[15] = ETX; return f }, ErrBadTerminator},
		{"bad LRC", func(f []byte) []byte { f[16] ^= 0x01; return f }, ErrChecksumMismatch},
		{"flipped digit", func(f []byte) []byte { f[3] ^= 0x01; return f }, ErrChecksumMismatch},
		{"non-hex", func(f []byte) []byte {
			f[2] = 'G'
			f[16] = LRC(f[1:16])

			return f
		}, ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte{}, good...)
			_, err := ParseHeader(tt.mutate(frame))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0000", 0, false},
		{"1F2e", 0x1F2E, false},
		{"ff", 0xFF, false},
		{"0x12", 0, true},
		{"+123", 0, true},
		{"12 4", 0, true},
		{"G1", 0, true},
	}

	for _, tt := range tests {
		v, err := parseHex([]byte(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, v, tt.in)
	}
}

func TestPackBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	for _, n := range []int{1, 4, 100, MaxBlockSize} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}

		frame, err := PackBlock(data, true)
		require.NoError(err)
		assert.Len(frame, n+blockOverhead)
		assert.Equal(STX, frame[0])
		assert.Equal(ETX, frame[n+1], "final block of %d bytes", n)
		assert.Equal(LRC(data), frame[n+2])

		frame, err = PackBlock(data, false)
		require.NoError(err)
		assert.Equal(ETB, frame[n+1])

		got, err := ParseBlock(frame, false)
		require.NoError(err)
		assert.Equal(data, got)
	}

	_, err := PackBlock(nil, true)
	require.ErrorIs(err, ErrBlockSize)
	_, err = PackBlock(make([]byte, MaxBlockSize+1), true)
	require.ErrorIs(err, ErrBlockSize)
}

func TestParseBlock_Errors(t *testing.T) {
	require := require.New(t)

	frame, err := PackBlock([]byte{0x11, 0x22, 0x33, 0x44}, true)
	require.NoError(err)

	_, err = ParseBlock(frame, false)
	require.ErrorIs(err, ErrBadTerminator)

	bad := append([]byte{}, frame...)
	bad[len(bad)-1] ^= 0x80
	_, err = ParseBlock(bad, true)
	require.ErrorIs(err, ErrChecksumMismatch)

	bad = append([]byte{}, frame...)
	bad[2] ^= 0x01
	_, err = ParseBlock(bad, true)
	require.ErrorIs(err, ErrChecksumMismatch)

	bad = append([]byte{}, frame...)
	bad[0] = SOH
	_, err = ParseBlock(bad, true)
	require.ErrorIs(err, ErrInvalidFrame)

	_, err = ParseBlock([]byte{STX, ETX, 0}, true)
	require.ErrorIs(err, ErrInvalidFrame)
}

func TestSplitBlocks(t *testing.T) {
	assert := assert.New(t)

	assert.Empty(splitBlocks(nil))

	blocks := splitBlocks(make([]byte, MaxBlockSize))
	assert.Len(blocks, 1)

	blocks = splitBlocks(make([]byte, 600))
	if assert.Len(blocks, 3) {
		assert.Len(blocks[0], MaxBlockSize)
		assert.Len(blocks[1], MaxBlockSize)
		assert.Len(blocks[2], 600-2*MaxBlockSize)
	}
}

func TestCommand(t *testing.T) {
	assert := assert.New(t)

	cmd := OpWriteVMem.WithSlave(5)
	assert.Equal(Command(0x0581), cmd)
	assert.True(cmd.IsWrite())
	assert.Equal(uint8(5), cmd.SlaveID())
	assert.Equal(byte(0x81), cmd.Op())
	assert.Equal("WriteVMem@5", cmd.String())

	cmd = cmd.WithSlave(7)
	assert.Equal(Command(0x0781), cmd)

	assert.False(OpReadStatus.IsWrite())
	assert.Equal("ReadStatus", OpReadStatus.String())
	assert.Equal("Command(0x0042)", Command(0x42).String())
}

func TestStatus(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Status(0), Success)
	assert.NoError(Success.Err())
	assert.True(Success.OK())

	err := SelectFail.Err()
	assert.ErrorIs(err, SelectFail)
	assert.Equal("directnet: SelectFail", err.Error())
	assert.Equal("UnexpectedDisconnect", UnexpectedDisconnect.String())
	assert.Equal("Status(42)", Status(42).String())
}
