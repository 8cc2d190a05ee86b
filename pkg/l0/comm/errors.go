package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge indicates the payload doesn't fit in a frame.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidStatus indicates an error reply is built with status OK.
	ErrInvalidStatus = errors.New("error status must be nonzero")
	// ErrNoStatus indicates a reply without the leading status byte.
	ErrNoStatus = errors.New("reply without status")
	// ErrMalformedData indicates BYTECOUNT disagrees with the reply length.
	ErrMalformedData = errors.New("malformed data reply")
	// ErrNoReply indicates no reply received from peer.
	// This happens when a reply is received for a latter command to the
	// same address, and all previous ones to that address fail with this error.
	ErrNoReply = errors.New("no reply")
)

// ParseError is a structural error of a candidate frame.
// The parser has already skipped the offending STX when it is reported.
type ParseError int

// Parse errors.
const (
	ErrLenTooSmall ParseError = iota + 1
	ErrLenTooBig
	ErrCRCMismatch
)

// Error implements error.
func (e ParseError) Error() string {
	switch e {
	case ErrLenTooSmall:
		return "frame length too small"
	case ErrLenTooBig:
		return "frame length too big"
	case ErrCRCMismatch:
		return "frame crc mismatch"
	}
	return fmt.Sprintf("parse error %d", int(e))
}

// BufferError indicates the destination buffer can't hold the frame.
type BufferError struct {
	Need int
	Have int
}

// Error implements error.
func (e *BufferError) Error() string {
	return fmt.Sprintf("buffer too small: need %d, have %d", e.Need, e.Have)
}

// Unwrap classifies the error as ErrPayloadTooLarge.
func (e *BufferError) Unwrap() error {
	return ErrPayloadTooLarge
}

// CommandError wraps error status codes from reply.
type CommandError struct {
	Code byte
}

// Error implements error.
func (e *CommandError) Error() string {
	switch e.Code {
	case StatusUnknownCommand:
		return "unknown command"
	case StatusBadRequest:
		return "bad request"
	case StatusFailure:
		return "command failed"
	}
	return fmt.Sprintf("command error 0x%02x", e.Code)
}
