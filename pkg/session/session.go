// Package session keeps the viewport state and runs the render loop
// that restarts its per-viewport resources when the viewport changes.
package session

import (
	"fmt"
	"image"
	"time"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/gofrs/uuid"
	"golang.org/x/image/draw"
)

type (
	// Surface is a drawable area of a fixed size, it can't be resized.
	Surface interface {
		Present(frame *image.RGBA) error
		Close() error
	}
	Display interface {
		Open(pos protocol.Position) (Surface, error)
		// Poll tells if a quit was requested.
		Poll() bool
	}
	Decoder interface {
		Decode(au []byte, w, h int) (*image.RGBA, error)
	}
)

// Session is a live binding of one viewport to its render resources.
type Session struct {
	ID       string
	Position protocol.Position

	frame   *image.RGBA
	scaler  *scale.Scaler
	surface Surface
	cursor  image.Image

	started time.Time
	frames  uint64
}

// Open allocates the frame buffer, the scaling context and the surface
// for the position, in that order.
func Open(pos protocol.Position, display Display, cursor image.Image, mode scale.Mode) (*Session, error) {
	if !pos.HasArea() {
		return nil, &encoder.ResourceError{What: "session", Err: fmt.Errorf("empty viewport %v", pos)}
	}
	if !pos.Fits() {
		return nil, &encoder.ResourceError{What: "session", Err: fmt.Errorf("%w: %v", protocol.ErrBadGeometry, pos)}
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, &encoder.ResourceError{What: "session id", Err: err}
	}
	w, h := int(pos.Width), int(pos.Height)
	s := &Session{
		ID:       id.String(),
		Position: pos,
		frame:    image.NewRGBA(image.Rect(0, 0, w, h)),
		scaler:   scale.New(mode, w, h),
		cursor:   cursor,
		started:  time.Now(),
	}
	if s.surface, err = display.Open(pos); err != nil {
		return nil, &encoder.ResourceError{What: "surface", Err: err}
	}
	return s, nil
}

// Render scales the picture into the viewport, draws the pointer over it
// and presents the result.
func (s *Session) Render(pic *image.RGBA, ptr protocol.Pointer) error {
	s.scaler.Scale(s.frame, pic)
	s.overlay(ptr)
	s.frames++
	return s.surface.Present(s.frame)
}

// overlay draws the cursor with its top-left corner at the pointer.
// Pointer coordinates are relative to the viewport.
func (s *Session) overlay(ptr protocol.Pointer) {
	if s.cursor == nil || !ptr.Visible {
		return
	}
	b := s.cursor.Bounds()
	r := b.Sub(b.Min).Add(image.Pt(int(ptr.X), int(ptr.Y)))
	draw.Draw(s.frame, r, s.cursor, b.Min, draw.Over)
}

func (s *Session) Frames() uint64 { return s.frames }

func (s *Session) Uptime() time.Duration { return time.Since(s.started) }

// Close releases the resources in reverse order.
func (s *Session) Close() (err error) {
	if s.surface != nil {
		err = s.surface.Close()
		s.surface = nil
	}
	s.scaler = nil
	s.frame = nil
	return
}
