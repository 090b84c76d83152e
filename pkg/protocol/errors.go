package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTag       = errors.New("unknown tag")
	ErrTruncatedPayload = errors.New("truncated payload")
	// ErrNoGeometry means a frame came before its size was known.
	ErrNoGeometry  = errors.New("frame geometry is not established")
	ErrBadGeometry = errors.New("viewport is too big")
)

// FramingError is a malformed stream: unknown tag, truncated payload,
// a frame without geometry or an oversized viewport.
type FramingError struct {
	Tag Tag
	Err error
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing: %v %v", e.Tag, e.Err) }
func (e *FramingError) Unwrap() error { return e.Err }

// IOError is a short read or write on the byte stream.
type IOError struct {
	Op  string
	Tag Tag
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io: %s %v: %v", e.Op, e.Tag, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }
