package encoder

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/encoder/color"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/protocol"
)

type (
	// VideoEncoder compresses pictures of a fixed size.
	// It may buffer the input and return no data (nil, nil).
	VideoEncoder interface {
		Encode(*image.RGBA) ([]byte, error)
		Close() error
	}
	// VideoDecoder decompresses access units.
	// It returns (nil, nil) when no picture is ready yet.
	VideoDecoder interface {
		Decode(au []byte) (*image.RGBA, error)
		Close() error
	}
	AudioEncoder interface {
		Encode(pcm []int16) ([]byte, error)
	}
	AudioDecoder interface {
		Decode(data []byte) ([]int16, error)
	}
)

// CodecError is a failure of a single media unit.
// The unit should be dropped.
type CodecError struct {
	Codec string
	Err   error
}

func (e *CodecError) Error() string { return fmt.Sprintf("%v: %v", e.Codec, e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

// ResourceError is a failure to allocate a codec, buffer or surface.
type ResourceError struct {
	What string
	Err  error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("no %v: %v", e.What, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

type NewVideoEncoder func(w, h int) (VideoEncoder, error)

// Video turns raw frames of the input stream into compressed video.
// It converts the pixel format and scales frames to even sides if needed.
type Video struct {
	codec   VideoEncoder
	pf      color.PixFmt
	in      *image.RGBA
	out     *image.RGBA
	scaler  *scale.Scaler
	log     *logger.Logger
	stopped atomic.Bool
	mu      sync.Mutex
}

func NewVideo(newCodec NewVideoEncoder, pf color.PixFmt, w, h int, mode scale.Mode, log *logger.Logger) (*Video, error) {
	if w <= 0 || h <= 0 || w > protocol.MaxSide || h > protocol.MaxSide {
		return nil, &ResourceError{What: "video encoder", Err: fmt.Errorf("bad frame size %vx%v", w, h)}
	}
	ew, eh := scale.Even(w, h)
	codec, err := newCodec(ew, eh)
	if err != nil {
		return nil, &ResourceError{What: "video encoder", Err: err}
	}
	v := &Video{codec: codec, pf: pf, in: image.NewRGBA(image.Rect(0, 0, w, h)), log: log}
	if ew != w || eh != h {
		v.out = image.NewRGBA(image.Rect(0, 0, ew, eh))
		v.scaler = scale.New(mode, ew, eh)
		log.Debug().Msgf("Scale %vx%v -> %vx%v", w, h, ew, eh)
	}
	return v, nil
}

// Encode compresses one raw frame, it may return no data.
func (v *Video) Encode(raw []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped.Load() {
		return nil, nil
	}

	if err := v.pf.ToRGBA(v.in, raw); err != nil {
		return nil, &CodecError{Codec: v.pf.String(), Err: err}
	}
	img := v.in
	if v.scaler != nil {
		v.scaler.Scale(v.out, v.in)
		img = v.out
	}
	data, err := v.codec.Encode(img)
	if err != nil {
		return nil, &CodecError{Codec: "video", Err: err}
	}
	return data, nil
}

// Size returns the size of encoded pictures.
func (v *Video) Size() (int, int) {
	if v.out != nil {
		return v.out.Rect.Dx(), v.out.Rect.Dy()
	}
	return v.in.Rect.Dx(), v.in.Rect.Dy()
}

func (v *Video) Stop() {
	v.stopped.Store(true)
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.codec.Close(); err != nil {
		v.log.Error().Err(err).Msg("failed to close the encoder")
	}
}
