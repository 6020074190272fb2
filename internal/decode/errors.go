package decode

import (
	"errors"
	"fmt"

	"github.com/zsiec/blackbox/media"
)

// Sentinel errors reported by decode backends. These enable callers to
// distinguish failure modes using errors.Is.
var (
	ErrCannotOpenFile  = errors.New("decode: cannot open file")
	ErrCodecNotFound   = errors.New("decode: codec not found")
	ErrNotInitialized  = errors.New("decode: decoder not initialized")
	ErrClosed          = errors.New("decode: decoder closed")
	ErrCorruptFrame    = errors.New("decode: corrupt frame")
	ErrSeekOutOfBounds = errors.New("decode: seek out of bounds")
)

// DecodeError records which operation failed on which channel. It wraps the
// underlying backend error.
type DecodeError struct {
	Op       string
	Position media.ChannelPosition
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s %s: %v", e.Op, e.Position, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
