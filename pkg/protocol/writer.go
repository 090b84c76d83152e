package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer encodes commands into a byte stream.
// Every command goes out with a single Write call.
type Writer struct {
	w   io.Writer
	pts bool
	buf []byte
}

// NewWriter makes a new command writer.
// The pts param should match WithTimestamps of the reading side.
func NewWriter(w io.Writer, pts bool) *Writer { return &Writer{w: w, pts: pts} }

func (w *Writer) WriteCommand(c Command) error {
	switch c.Tag {
	case TagFrame:
		return w.WriteFrame(c.Pts, c.Payload)
	case TagAudio:
		return w.WriteAudio(c.Pts, c.Samples, c.Payload)
	case TagPosition:
		return w.WritePosition(c.Position)
	case TagPointer:
		return w.WritePointer(c.Pointer)
	}
	return &FramingError{Tag: c.Tag, Err: ErrUnknownTag}
}

func (w *Writer) WriteFrame(pts uint64, pixels []byte) error {
	b := w.start(TagFrame, pts, len(pixels))
	b = append(b, pixels...)
	return w.flush(TagFrame, b)
}

// WriteAudio writes samples raw interleaved audio samples.
// The data size should be exactly samples * bytes per sample.
func (w *Writer) WriteAudio(pts uint64, samples uint32, data []byte) error {
	b := w.start(TagAudio, pts, CountSize+len(data))
	b = binary.LittleEndian.AppendUint32(b, samples)
	b = append(b, data...)
	return w.flush(TagAudio, b)
}

func (w *Writer) WritePosition(p Position) error {
	b := w.buf[:0]
	b = append(b, TagPosition[:]...)
	for _, v := range [...]int32{p.X, p.Y, p.Width, p.Height} {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return w.flush(TagPosition, b)
}

func (w *Writer) WritePointer(p Pointer) error {
	b := w.buf[:0]
	b = append(b, TagPointer[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(p.X))
	b = binary.LittleEndian.AppendUint32(b, uint32(p.Y))
	b = append(b, p.flags())
	return w.flush(TagPointer, b)
}

func (w *Writer) start(tag Tag, pts uint64, payload int) []byte {
	size := TagSize + payload
	if w.pts {
		size += PtsSize
	}
	if cap(w.buf) < size {
		w.buf = make([]byte, 0, size)
	}
	b := append(w.buf[:0], tag[:]...)
	if w.pts {
		b = binary.LittleEndian.AppendUint64(b, pts)
	}
	return b
}

func (w *Writer) flush(tag Tag, b []byte) error {
	w.buf = b[:0]
	n, err := w.w.Write(b)
	if err == nil && n != len(b) {
		err = fmt.Errorf("%w (%d of %d)", io.ErrShortWrite, n, len(b))
	}
	if err != nil {
		return &IOError{Op: "write", Tag: tag, Err: err}
	}
	return nil
}
