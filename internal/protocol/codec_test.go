package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "simple command",
			msg:  Message{"command": "quit"},
		},
		{
			name: "login request",
			msg: Message{
				"command":  "hello",
				"login":    "Rhiza",
				"password": "deadbeef",
			},
		},
		{
			name: "nested values",
			msg: Message{
				"command": "game_info",
				"teams":   map[string]any{"1": []any{"alpha", "beta"}},
				"rating":  1500.0,
				"visible": true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := ReadMessage(bytes.NewReader(frame))
			require.NoError(t, err)

			// JSON decodes numbers as float64, so compare against a
			// decode-typed copy of the original.
			raw, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			var expected Message
			require.NoError(t, json.Unmarshal(raw, &expected))

			assert.Equal(t, expected, decoded)
		})
	}
}

func TestEncodeRejectsMissingCommand(t *testing.T) {
	_, err := Encode(Message{"login": "Rhiza"})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReadMessageRejectsZeroLengthFrame(t *testing.T) {
	frame := make([]byte, LengthPrefixSize)
	_, err := ReadMessage(bytes.NewReader(frame))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var header [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], MaxMessageSize+1)
	_, err := ReadMessage(bytes.NewReader(header[:]))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReadMessageTruncatedPayload(t *testing.T) {
	frame, err := Encode(Message{"command": "hello", "login": "x"})
	require.NoError(t, err)

	// Cut the payload short so the declared length cannot be satisfied.
	_, err = ReadMessage(bytes.NewReader(frame[:len(frame)-3]))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReadMessageEOFAtFrameBoundary(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadMessageRejectsNonObjectPayload(t *testing.T) {
	payload := []byte(`["not", "an", "object"]`)
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	_, err := ReadMessage(bytes.NewReader(frame))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReadMessageRejectsMissingCommand(t *testing.T) {
	payload := []byte(`{"login": "Rhiza"}`)
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	_, err := ReadMessage(bytes.NewReader(frame))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestWriteMessageThenRead(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{"command": "welcome", "id": 42.0, "login": "Rhiza"}
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "welcome", decoded.Command())
	assert.Equal(t, 42, decoded.Int("id"))
	assert.Equal(t, "Rhiza", decoded.String("login"))
}

func TestMessageAccessors(t *testing.T) {
	m := Message{
		"command": "hello",
		"count":   float64(7),
		"flag":    true,
	}
	assert.Equal(t, "hello", m.Command())
	assert.Equal(t, 7, m.Int("count"))
	assert.True(t, m.Bool("flag"))
	assert.Equal(t, "", m.String("missing"))
	assert.Equal(t, 0, m.Int("missing"))
	assert.False(t, m.Bool("missing"))
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{"command": "hello", "login": "a"}))
	require.NoError(t, WriteMessage(&buf, Message{"command": "quit"}))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Command())

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "quit", second.Command())

	_, err = ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}
