package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommand_AssignsDistinctCorrelationIDs(t *testing.T) {
	a := NewCommand(1, CmdPause, nil)
	b := NewCommand(1, CmdPause, nil)
	assert.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
}

func TestWriteFrameReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewCommand(5, CmdExecuteCycle, []byte("payload"))
	require.NoError(t, WriteFrame(&buf, cmd))

	var got Command
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, cmd.CorrelationID, got.CorrelationID)
	assert.Equal(t, cmd.AccountID, got.AccountID)
	assert.Equal(t, cmd.Type, got.Type)
}

func TestReadFrame_RejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], maxFrameSize+1)
	buf.Write(lenBuf[:])

	var got Command
	err := ReadFrame(&buf, &got)
	assert.Error(t, err)
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	payload := CycleCompletePayload{Trades: 2, Signals: 3, Errors: []string{"x"}}
	data, err := Encode(payload)
	require.NoError(t, err)

	var got CycleCompletePayload
	require.NoError(t, Decode(data, &got))
	assert.Equal(t, payload, got)
}
