package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxMessageSize is the maximum allowed message size (50MB).
const MaxMessageSize = 50 * 1024 * 1024

// Response status bytes. Every reply starts with one of them, followed by an
// Arrow IPC result stream on success or a UTF-8 error message on failure.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

var (
	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")
	// ErrEmptyResponse is returned for a reply without a status byte.
	ErrEmptyResponse = errors.New("empty response")
	// ErrRemote wraps an error reported by the server.
	ErrRemote = errors.New("server error")
)

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	length := uint32(len(data)) // #nosec G115 - bounds checked above
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}

	return nil
}

// EncodeResponse prefixes a payload with its status byte.
func EncodeResponse(status byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = status
	copy(out[1:], payload)
	return out
}

// ErrorResponse encodes err as a failed reply.
func ErrorResponse(err error) []byte {
	return EncodeResponse(StatusError, []byte(err.Error()))
}

// DecodeResponse splits a reply into its payload, turning failed replies
// into an error wrapping ErrRemote.
func DecodeResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, ErrEmptyResponse
	}
	switch resp[0] {
	case StatusOK:
		return resp[1:], nil
	case StatusError:
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp[1:])
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrRemote, resp[0])
	}
}
