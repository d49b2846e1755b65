package main

import (
	"testing"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArea(t *testing.T) {
	tests := []struct {
		in   string
		want directnet.Command
	}{
		{"vmem", directnet.OpReadVMem},
		{"V", directnet.OpReadVMem},
		{"inputs", directnet.OpReadInputs},
		{"status", directnet.OpReadStatus},
		{"0x06", directnet.OpReadScratchpad},
		{"0x87", directnet.OpReadProgram},
		{"3", directnet.OpReadOutputs},
	}
	for _, tt := range tests {
		got, err := parseArea(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseArea("timers")
	assert.Error(t, err)
	_, err = parseArea("0x100")
	assert.Error(t, err)
}

func TestParseNumbers(t *testing.T) {
	addr, err := parseAddress("0x1F00")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1F00), addr)

	addr, err = parseAddress("256")
	require.NoError(t, err)
	assert.Equal(t, uint16(256), addr)

	_, err = parseAddress("0x10000")
	assert.Error(t, err)

	n, err := parseLength("0x20")
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	_, err = parseLength("0")
	assert.Error(t, err)
}

func TestParseData(t *testing.T) {
	data, err := parseData("0x0A0b")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B}, data)

	data, err = parseData("01:02 03")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = parseData("abc")
	assert.Error(t, err)
	_, err = parseData("")
	assert.Error(t, err)
}

func TestParseSlaves(t *testing.T) {
	ids, err := parseSlaves("1, 2,90")
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 90}, ids)

	ids, err = parseSlaves("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = parseSlaves("0")
	assert.Error(t, err)
	_, err = parseSlaves("1,x")
	assert.Error(t, err)
}
