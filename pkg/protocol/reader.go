package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"slices"
)

// the biggest single read of an audio payload
const maxChunk = 64 * 1024

// Reader decodes commands from a byte stream.
// It's not safe for concurrent use.
type Reader struct {
	r         io.Reader
	pts       bool
	bps       int
	frameSize func() int
	allowed   map[Tag]bool

	hdr [PositionSize]byte
	buf []byte
}

type Option func(*Reader)

// WithTimestamps makes the reader expect an 8-byte pts after the FRM and AUD tags.
func WithTimestamps(enabled bool) Option { return func(r *Reader) { r.pts = enabled } }

// WithAudio sets the size of one (multichannel) audio sample in bytes.
// AUD commands are rejected without it.
func WithAudio(bytesPerSample int) Option { return func(r *Reader) { r.bps = bytesPerSample } }

// WithFrameSize sets the source of the current FRM payload size in bytes.
// The function is called on each frame; non-positive values mean
// that there is no geometry yet.
func WithFrameSize(fn func() int) Option { return func(r *Reader) { r.frameSize = fn } }

// AllowTags restricts the stream to the given commands,
// any other tag is reported as unknown.
func AllowTags(t ...Tag) Option {
	return func(r *Reader) {
		r.allowed = make(map[Tag]bool, len(t))
		for _, tag := range t {
			r.allowed[tag] = true
		}
	}
}

func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{r: r}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// ReadCommand reads exactly one command.
//
// It returns io.EOF only when the stream ends cleanly before a tag,
// a *FramingError for malformed commands, and an *IOError for any other short read.
// The Payload of the returned command is reused by the next call.
func (r *Reader) ReadCommand() (Command, error) {
	var tag Tag
	if n, err := io.ReadFull(r.r, tag[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Command{}, io.EOF
		}
		return Command{}, &IOError{Op: "read tag", Err: err}
	}

	if !r.accepts(tag) {
		return Command{}, &FramingError{Tag: tag, Err: ErrUnknownTag}
	}

	cmd := Command{Tag: tag}
	switch tag {
	case TagFrame:
		if err := r.readPts(&cmd); err != nil {
			return Command{}, err
		}
		size := 0
		if r.frameSize != nil {
			size = r.frameSize()
		}
		if size <= 0 {
			return Command{}, &FramingError{Tag: tag, Err: ErrNoGeometry}
		}
		cmd.Payload = r.grow(size)
		if _, err := io.ReadFull(r.r, cmd.Payload); err != nil {
			return Command{}, &IOError{Op: "read frame", Tag: tag, Err: err}
		}
	case TagAudio:
		if err := r.readPts(&cmd); err != nil {
			return Command{}, err
		}
		if _, err := io.ReadFull(r.r, r.hdr[:CountSize]); err != nil {
			return Command{}, &IOError{Op: "read sample count", Tag: tag, Err: err}
		}
		cmd.Samples = binary.LittleEndian.Uint32(r.hdr[:CountSize])
		payload, err := r.readChunked(int64(cmd.Samples) * int64(r.bps))
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Command{}, &FramingError{Tag: tag, Err: ErrTruncatedPayload}
			}
			return Command{}, &IOError{Op: "read samples", Tag: tag, Err: err}
		}
		cmd.Payload = payload
	case TagPosition:
		b := r.hdr[:PositionSize]
		if _, err := io.ReadFull(r.r, b); err != nil {
			return Command{}, &IOError{Op: "read position", Tag: tag, Err: err}
		}
		cmd.Position = Position{
			X:      int32(binary.LittleEndian.Uint32(b[0:])),
			Y:      int32(binary.LittleEndian.Uint32(b[4:])),
			Width:  int32(binary.LittleEndian.Uint32(b[8:])),
			Height: int32(binary.LittleEndian.Uint32(b[12:])),
		}
		if !cmd.Position.Fits() {
			return Command{}, &FramingError{Tag: tag, Err: ErrBadGeometry}
		}
	case TagPointer:
		b := r.hdr[:PointerSize]
		if _, err := io.ReadFull(r.r, b); err != nil {
			return Command{}, &IOError{Op: "read pointer", Tag: tag, Err: err}
		}
		cmd.Pointer = pointerFromFlags(
			int32(binary.LittleEndian.Uint32(b[0:])),
			int32(binary.LittleEndian.Uint32(b[4:])),
			b[8],
		)
	}
	return cmd, nil
}

func (r *Reader) accepts(tag Tag) bool {
	if !tag.Known() {
		return false
	}
	if tag == TagAudio && r.bps <= 0 {
		return false
	}
	return r.allowed == nil || r.allowed[tag]
}

func (r *Reader) readPts(cmd *Command) error {
	if !r.pts {
		return nil
	}
	b := r.hdr[:PtsSize]
	if _, err := io.ReadFull(r.r, b); err != nil {
		return &IOError{Op: "read pts", Tag: cmd.Tag, Err: err}
	}
	cmd.Pts = binary.LittleEndian.Uint64(b)
	return nil
}

// readChunked reads exactly n bytes into the internal buffer, growing it
// by at most maxChunk bytes per read, so a bogus size can't allocate
// more memory than the stream really has.
func (r *Reader) readChunked(n int64) ([]byte, error) {
	buf := r.buf[:0]
	for rest := n; rest > 0; {
		chunk := min(rest, maxChunk)
		at := len(buf)
		buf = slices.Grow(buf, int(chunk))[:at+int(chunk)]
		if _, err := io.ReadFull(r.r, buf[at:]); err != nil {
			r.buf = buf[:0]
			if at > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		rest -= chunk
	}
	r.buf = buf
	return buf, nil
}

// grow returns the internal buffer resized to exactly n bytes.
func (r *Reader) grow(n int) []byte {
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	return r.buf[:n]
}
