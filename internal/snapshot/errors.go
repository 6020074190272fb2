package snapshot

import (
	"errors"
	"fmt"
)

// Sentinel errors for snapshot encoding and decoding.
var (
	ErrUnknownMessage  = errors.New("snapshot: unknown message type")
	ErrUnknownVersion  = errors.New("snapshot: unsupported version")
	ErrMessageTooLarge = errors.New("snapshot: message too large")
	ErrValueTooLarge   = errors.New("snapshot: value exceeds varint range")
	ErrTrailingData    = errors.New("snapshot: trailing data after message")
)

// ParseError indicates a failure to parse a snapshot field. It wraps the
// underlying I/O or format error and records which field was being parsed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("snapshot: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
