// Package protocol implements the command stream shared by the encoder and the player.
//
// Each command is a 4-byte ASCII tag terminated by '\n' followed by a fixed-size,
// tag-specific payload. All integers are little-endian.
//
//	FRM\n [pts u64] pixels[width*height*bpp]
//	AUD\n [pts u64] count u32 samples[count*bps]
//	POS\n x i32 y i32 width i32 height i32
//	PTR\n x i32 y i32 flags u8 (bit 0 = visible)
//
// The stream has no resynchronization points, so any framing error is final.
package protocol

import "fmt"

type Tag [4]byte

var (
	TagFrame    = Tag{'F', 'R', 'M', '\n'}
	TagAudio    = Tag{'A', 'U', 'D', '\n'}
	TagPosition = Tag{'P', 'O', 'S', '\n'}
	TagPointer  = Tag{'P', 'T', 'R', '\n'}
)

var tags = []Tag{TagFrame, TagAudio, TagPosition, TagPointer}

func (t Tag) Known() bool {
	for _, k := range tags {
		if t == k {
			return true
		}
	}
	return false
}

// Name returns the printable part of the tag.
func (t Tag) Name() string { return string(t[:3]) }

func (t Tag) String() string { return fmt.Sprintf("%q", string(t[:])) }

const (
	TagSize       = len(Tag{})
	PtsSize       = 8
	CountSize     = 4
	PositionSize  = 4 * 4
	PointerSize   = 2*4 + 1
	pointerVisBit = 1 << 0

	// MaxSide is the biggest accepted width or height of a viewport or frame.
	MaxSide = 16384
)

// Position is the destination viewport: where and how big the remote display is.
type Position struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// HasArea tells if the position has a drawable size.
func (p Position) HasArea() bool { return p.Width > 0 && p.Height > 0 }

// Fits tells if the size is within MaxSide.
func (p Position) Fits() bool { return p.Width <= MaxSide && p.Height <= MaxSide }

func (p Position) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", p.Width, p.Height, p.X, p.Y)
}

type Pointer struct {
	X       int32 `json:"x"`
	Y       int32 `json:"y"`
	Visible bool  `json:"visible"`
}

func (p Pointer) flags() (f byte) {
	if p.Visible {
		f |= pointerVisBit
	}
	return
}

func pointerFromFlags(x, y int32, flags byte) Pointer {
	return Pointer{X: x, Y: y, Visible: flags&pointerVisBit != 0}
}

// Command is one decoded unit of the stream.
// Only the fields of its Tag are set.
type Command struct {
	Tag Tag
	// Pts is the presentation timestamp of FRM and AUD commands
	// when the stream carries them.
	Pts uint64
	// Samples is the number of audio samples in the Payload of AUD.
	Samples uint32
	// Payload holds raw pixels of FRM or raw interleaved samples of AUD.
	// It is only valid until the next read.
	Payload  []byte
	Position Position
	Pointer  Pointer
}

func (c Command) String() string {
	switch c.Tag {
	case TagFrame:
		return fmt.Sprintf("FRM[pts=%d, %dB]", c.Pts, len(c.Payload))
	case TagAudio:
		return fmt.Sprintf("AUD[pts=%d, n=%d, %dB]", c.Pts, c.Samples, len(c.Payload))
	case TagPosition:
		return "POS[" + c.Position.String() + "]"
	case TagPointer:
		return fmt.Sprintf("PTR[%d,%d v=%v]", c.Pointer.X, c.Pointer.Y, c.Pointer.Visible)
	}
	return c.Tag.String()
}
