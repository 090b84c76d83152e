package h264

import (
	"bytes"
	"image"

	"github.com/gen2brain/x264-go"
)

type Options struct {
	FrameRate int
	// ultrafast, superfast, veryfast, faster, fast, medium, slow, slower, veryslow, placebo.
	Preset string
	// baseline, main, high, high10, high422, high444.
	Profile string
	// film, animation, grain, stillimage, psnr, ssim, fastdecode, zerolatency.
	Tune     string
	LogLevel int32
}

func DefaultOptions() Options {
	return Options{FrameRate: 15, Preset: "ultrafast", Profile: "baseline", Tune: "zerolatency", LogLevel: x264.LogError}
}

// Encoder makes Annex-B H.264 access units from RGBA pictures.
type Encoder struct {
	buf bytes.Buffer
	enc *x264.Encoder
}

// NewEncoder returns new x264 encoder for w x h pictures.
// Both sides should be even.
func NewEncoder(w, h int, o Options) (*Encoder, error) {
	e := &Encoder{}
	enc, err := x264.NewEncoder(&e.buf, &x264.Options{
		Width:     w,
		Height:    h,
		FrameRate: o.FrameRate,
		Tune:      o.Tune,
		Preset:    o.Preset,
		Profile:   o.Profile,
		LogLevel:  o.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	e.enc = enc
	return e, nil
}

// Encode returns NALs of one picture or nothing if the encoder delays it.
func (e *Encoder) Encode(img *image.RGBA) ([]byte, error) {
	e.buf.Reset()
	if err := e.enc.Encode(img); err != nil {
		return nil, err
	}
	if e.buf.Len() == 0 {
		return nil, nil
	}
	return append([]byte(nil), e.buf.Bytes()...), nil
}

func (e *Encoder) Close() error {
	_ = e.enc.Flush()
	return e.enc.Close()
}
