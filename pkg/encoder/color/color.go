// Package color converts raw interleaved pixels of the input stream into RGBA images.
package color

import (
	"fmt"
	"image"
	"strings"
)

// PixFmt is a raw pixel format named by the byte order of its components in memory.
type PixFmt struct {
	name       string
	bpp        int
	r, g, b, a int
}

var formats = []PixFmt{
	{name: "RGB888", bpp: 3, r: 0, g: 1, b: 2, a: -1},
	{name: "BGR888", bpp: 3, r: 2, g: 1, b: 0, a: -1},
	{name: "ABGR8888", bpp: 4, r: 3, g: 2, b: 1, a: 0},
	{name: "ARGB8888", bpp: 4, r: 1, g: 2, b: 3, a: 0},
	{name: "BGRA8888", bpp: 4, r: 2, g: 1, b: 0, a: 3},
	{name: "RGBA8888", bpp: 4, r: 0, g: 1, b: 2, a: 3},
}

// Parse returns a pixel format by its name, i.e. RGB888.
func Parse(name string) (PixFmt, error) {
	n := strings.ToUpper(name)
	for _, f := range formats {
		if f.name == n {
			return f, nil
		}
	}
	return PixFmt{}, fmt.Errorf("unsupported pixel format %q", name)
}

func Formats() []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.name
	}
	return names
}

// BytesPerPixel is the number of 8-bit components in the format name.
func (f PixFmt) BytesPerPixel() int { return f.bpp }

func (f PixFmt) String() string { return f.name }

// FrameSize returns the size of one w x h frame in bytes.
func (f PixFmt) FrameSize(w, h int) int { return w * h * f.bpp }

// ToRGBA converts raw pixels into the dst image of the same size.
// Alpha is ignored and the result is always opaque.
func (f PixFmt) ToRGBA(dst *image.RGBA, src []byte) error {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if len(src) < f.FrameSize(w, h) {
		return fmt.Errorf("short %v frame %vB for %vx%v", f, len(src), w, h)
	}
	if f.name == "RGBA8888" {
		for y := 0; y < h; y++ {
			row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			copy(row, src[y*w*4:])
			for x := 3; x < len(row); x += 4 {
				row[x] = 0xff
			}
		}
		return nil
	}
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4 : y*dst.Stride+w*4]
		in := src[y*w*f.bpp : (y+1)*w*f.bpp]
		for x, i := 0, 0; x < len(row); x, i = x+4, i+f.bpp {
			row[x] = in[i+f.r]
			row[x+1] = in[i+f.g]
			row[x+2] = in[i+f.b]
			row[x+3] = 0xff
		}
	}
	return nil
}
