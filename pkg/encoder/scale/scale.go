// Package scale maps RGBA pictures of one size onto another.
package scale

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

type Mode int

const (
	NearestNeighbour Mode = iota
	Bilinear
	CatmullRom
)

func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "", "nearest":
		return NearestNeighbour, nil
	case "bilinear":
		return Bilinear, nil
	case "catmullrom":
		return CatmullRom, nil
	}
	return 0, fmt.Errorf("unknown scale mode %q", name)
}

// Scaler is a scaling context bound to one source and one destination size.
// A new source size rebuilds it.
type Scaler struct {
	mode   Mode
	src    image.Point
	dst    image.Point
	kernel draw.Scaler
}

func New(mode Mode, dw, dh int) *Scaler {
	return &Scaler{mode: mode, dst: image.Pt(dw, dh)}
}

// Scale draws src into dst fully covering it.
// The same sizes are just copied.
func (s *Scaler) Scale(dst, src *image.RGBA) {
	sb, db := src.Bounds(), dst.Bounds()
	if sb.Size() == db.Size() {
		draw.Copy(dst, db.Min, src, sb, draw.Src, nil)
		return
	}
	s.bind(sb.Size(), db.Size()).Scale(dst, db, src, sb, draw.Src, nil)
}

func (s *Scaler) bind(src, dst image.Point) draw.Scaler {
	if s.kernel != nil && s.src == src && s.dst == dst {
		return s.kernel
	}
	s.src, s.dst = src, dst
	switch s.mode {
	case Bilinear:
		s.kernel = draw.BiLinear.NewScaler(dst.X, dst.Y, src.X, src.Y)
	case CatmullRom:
		s.kernel = draw.CatmullRom.NewScaler(dst.X, dst.Y, src.X, src.Y)
	default:
		s.kernel = draw.NearestNeighbor
	}
	return s.kernel
}

// Even rounds both sides up to the closest even number,
// that is required by the 4:2:0 video encoders.
func Even(w, h int) (int, int) { return w + w&1, h + h&1 }
