package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_WriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	payloads := []string{
		"<FIXML/>",
		"second frame",
		"third",
	}
	for _, p := range payloads {
		require.NoError(t, f.WriteFrame([]byte(p)))
	}

	for _, want := range payloads {
		got, err := f.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestFramer_PrefixEncoding(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	require.NoError(t, f.WriteFrame([]byte("abc")))

	raw := buf.Bytes()
	require.Len(t, raw, 7)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, "abc", string(raw[4:]))
}

func TestFramer_ZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})

	f := NewFramer(&buf)
	_, err := f.ReadFrame()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestFramer_NegativeLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(-5))

	f := NewFramer(&buf)
	_, err := f.ReadFrame()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestFramer_OversizedFrameIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	binary.Write(&buf, binary.BigEndian, uint32(len(oversized)))
	buf.Write(oversized)

	f := NewFramer(&buf)
	require.NoError(t, f.WriteFrame([]byte("next")))

	_, err := f.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// The stream stays usable after the skip
	got, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "next", string(got))
}

func TestFramer_PartialPayloadIsConnectionLoss(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(100))
	buf.Write([]byte("short"))

	f := NewFramer(&buf)
	_, err := f.ReadFrame()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFrameTooLarge)
}
