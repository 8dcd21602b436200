package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProtocolError indicates a malformed or truncated frame. Sessions treat
// it as fatal and close the connection.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Encode serializes a message into a length-prefixed frame.
// The message must carry a command field.
func Encode(m Message) ([]byte, error) {
	if m.Command() == "" {
		return nil, &ProtocolError{Reason: "message has no command field"}
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, &ProtocolError{Reason: "failed to serialize message", Err: err}
	}

	if len(payload) > MaxMessageSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message too large: %d bytes (max %d)", len(payload), MaxMessageSize)}
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame, nil
}

// ReadMessage reads a single frame from a reader and decodes it.
// Blocks until a full frame is available. No message is half-delivered:
// on any failure the returned message is nil.
func ReadMessage(r io.Reader) (Message, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, &ProtocolError{Reason: "failed to read frame length", Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, &ProtocolError{Reason: "received zero-length frame"}
	}
	if length > MaxMessageSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame too large: %d bytes (max %d)", length, MaxMessageSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("failed to read frame payload (%d bytes)", length), Err: err}
	}

	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, &ProtocolError{Reason: "failed to deserialize message", Err: err}
	}

	if m.Command() == "" {
		return nil, &ProtocolError{Reason: "message has no command field"}
	}

	return m, nil
}

// WriteMessage encodes a message and writes the frame to a writer.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
