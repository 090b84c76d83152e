package h264

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/protocol"
)

const pictureBuffer = 8

var _ encoder.VideoDecoder = (*Decoder)(nil)

// Decoder decodes Annex-B H.264 access units of a fixed size
// with an external ffmpeg process.
//
// Access units go into the stdin of the process and raw RGBA pictures
// are read from its stdout, so Decode never waits for a picture.
type Decoder struct {
	cmd  *exec.Cmd
	in   io.WriteCloser
	pics chan *image.RGBA
	done chan struct{}
	err  atomic.Value

	w, h    int
	dropped atomic.Uint64
	log     *logger.Logger
}

func decoderArgs(w, h int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer", "-flags", "low_delay",
		"-probesize", "32", "-analyzeduration", "0",
		"-f", "h264", "-i", "pipe:0",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"pipe:1",
	}
}

// NewDecoder starts a new ffmpeg decoder for w x h pictures.
func NewDecoder(ffmpeg string, w, h int, log *logger.Logger) (*Decoder, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("bad picture size %vx%v", w, h)
	}
	path, err := exec.LookPath(ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("no ffmpeg: %w", err)
	}

	cmd := exec.Command(path, decoderArgs(w, h)...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = log.Writer()
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	d := &Decoder{
		cmd:  cmd,
		in:   in,
		pics: make(chan *image.RGBA, pictureBuffer),
		done: make(chan struct{}),
		w:    w,
		h:    h,
		log:  log,
	}
	go d.read(out)
	log.Debug().Msgf("ffmpeg decoder [%v] %vx%v", cmd.Process.Pid, w, h)
	return d, nil
}

func (d *Decoder) read(out io.Reader) {
	defer close(d.done)
	for {
		pic := image.NewRGBA(image.Rect(0, 0, d.w, d.h))
		if _, err := io.ReadFull(out, pic.Pix); err != nil {
			if !errors.Is(err, io.EOF) {
				d.err.Store(err)
			}
			return
		}
		select {
		case d.pics <- pic:
		default:
			// the oldest picture goes away
			select {
			case <-d.pics:
				d.dropped.Add(1)
			default:
			}
			d.pics <- pic
		}
	}
}

// Decode feeds one access unit and returns the oldest ready picture, if any.
func (d *Decoder) Decode(au []byte) (*image.RGBA, error) {
	select {
	case <-d.done:
		err, _ := d.err.Load().(error)
		if err == nil {
			err = io.ErrClosedPipe
		}
		return nil, &encoder.ResourceError{What: "h264 decoder", Err: err}
	default:
	}
	if _, err := d.in.Write(au); err != nil {
		return nil, &encoder.ResourceError{What: "h264 decoder", Err: err}
	}
	select {
	case pic := <-d.pics:
		return pic, nil
	default:
		return nil, nil
	}
}

// Dropped returns the number of pictures that were never taken.
func (d *Decoder) Dropped() uint64 { return d.dropped.Load() }

func (d *Decoder) Close() error {
	_ = d.in.Close()
	<-d.done
	err := d.cmd.Wait()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// killed or closed mid-stream
		return nil
	}
	return err
}

// Stream decodes video packets and rebuilds the decoder
// when the picture size of the stream changes.
type Stream struct {
	ffmpeg string
	dec    *Decoder
	log    *logger.Logger
}

func NewStream(ffmpeg string, log *logger.Logger) *Stream { return &Stream{ffmpeg: ffmpeg, log: log} }

func (s *Stream) Decode(au []byte, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, &encoder.CodecError{Codec: "h264", Err: fmt.Errorf("no picture size")}
	}
	if w > protocol.MaxSide || h > protocol.MaxSide {
		return nil, &encoder.CodecError{Codec: "h264", Err: fmt.Errorf("picture %vx%v is too big", w, h)}
	}
	if s.dec == nil || s.dec.w != w || s.dec.h != h {
		if s.dec != nil {
			s.log.Info().Msgf("Stream size %vx%v -> %vx%v", s.dec.w, s.dec.h, w, h)
			_ = s.dec.Close()
			s.dec = nil
		}
		dec, err := NewDecoder(s.ffmpeg, w, h, s.log)
		if err != nil {
			return nil, &encoder.ResourceError{What: "h264 decoder", Err: err}
		}
		s.dec = dec
	}
	return s.dec.Decode(au)
}

func (s *Stream) Close() error {
	if s.dec == nil {
		return nil
	}
	err := s.dec.Close()
	s.dec = nil
	return err
}
