// Package pipeline wires the command stream, codecs, transport and
// display into the encoder and player processes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/color"
	"github.com/giongto35/cloud-display/pkg/encoder/opus"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/giongto35/cloud-display/pkg/monitoring"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/giongto35/cloud-display/pkg/session"
)

const (
	videoClock = 90000
	audioClock = opus.SampleRate
)

// Sink takes the compressed media, rtp.Sender is one.
type Sink interface {
	WriteVideo(au []byte, timestamp uint32, width, height int) error
	WriteAudio(frame []byte, timestamp uint32) error
}

type EncoderOptions struct {
	PixFmt color.PixFmt
	Scale  scale.Mode
	// FRM and AUD have an 8-byte pts (µs)
	Timestamps bool

	// zero SampleRate means no audio
	SampleFormat media.SampleFormat
	SampleRate   int
	// the duration of one codec frame, one of the Opus frame sizes
	Frame time.Duration
	// samples of one frame at SampleRate, by default taken from Frame
	FrameSamples int
}

type NewAudioEncoder func() (encoder.AudioEncoder, error)

// Encoder reads raw frames and audio from the command stream,
// compresses them and sends them to the sink.
//
// The video encoder is bound to the current viewport size,
// it is rebuilt at the first frame after a viewport change.
type Encoder struct {
	ctl      *session.Controller
	opts     EncoderOptions
	newVideo encoder.NewVideoEncoder
	out      Sink
	log      *logger.Logger

	video *encoder.Video
	audio encoder.AudioEncoder
	acc   *media.Accumulator
	pcm   []int16
	wide  []int16
	// codec frame in interleaved values
	codecFrame int
	audioTs    uint32

	start time.Time
	now   func() time.Time

	frames  atomic.Uint64
	sounds  atomic.Uint64
	dropped atomic.Uint64
}

func NewEncoder(ctl *session.Controller, opts EncoderOptions, newVideo encoder.NewVideoEncoder,
	newAudio NewAudioEncoder, out Sink, log *logger.Logger) (*Encoder, error) {
	e := &Encoder{ctl: ctl, opts: opts, newVideo: newVideo, out: out, log: log, now: time.Now}
	if opts.SampleRate > 0 {
		if opts.FrameSamples <= 0 {
			opts.FrameSamples = media.FrameSamples(opts.SampleRate, opts.Frame)
		}
		if opts.FrameSamples <= 0 {
			return nil, fmt.Errorf("bad audio frame %v", opts.Frame)
		}
		e.opts = opts
		enc, err := newAudio()
		if err != nil {
			return nil, &encoder.ResourceError{What: "audio encoder", Err: err}
		}
		acc, err := media.NewAccumulator(opts.FrameSamples, opts.SampleFormat.BytesPerSample(), e.encodeAudio)
		if err != nil {
			return nil, &encoder.ResourceError{What: "audio buffer", Err: err}
		}
		e.audio, e.acc = enc, acc
		// the source frame is rounded, the codec one must be exact
		if opts.Frame > 0 {
			e.codecFrame = media.FrameSamples(audioClock, opts.Frame) * media.Channels
		} else {
			e.codecFrame = opts.FrameSamples * audioClock / opts.SampleRate * media.Channels
		}
		if opts.SampleRate != audioClock {
			log.Info().Msgf("Audio %vHz -> %vHz", opts.SampleRate, audioClock)
		}
	}
	return e, nil
}

// Run reads the input until it ends or fails.
// A clean end of the input is returned as io.EOF.
func (e *Encoder) Run(ctx context.Context, in io.Reader) error {
	e.start = e.now()
	defer e.close()

	opts := []protocol.Option{
		protocol.WithTimestamps(e.opts.Timestamps),
		protocol.WithFrameSize(e.frameSize),
	}
	if e.acc != nil {
		opts = append(opts, protocol.WithAudio(e.opts.SampleFormat.BytesPerSample()))
	}
	r := protocol.NewReader(in, opts...)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := r.ReadCommand()
		if err != nil {
			return err
		}
		monitoring.Commands.WithLabelValues(cmd.Tag.Name()).Inc()
		if err = e.handle(cmd); err != nil {
			return err
		}
	}
}

func (e *Encoder) frameSize() int {
	pos := e.ctl.Position()
	if !pos.HasArea() {
		return 0
	}
	return e.opts.PixFmt.FrameSize(int(pos.Width), int(pos.Height))
}

func (e *Encoder) handle(cmd protocol.Command) error {
	switch cmd.Tag {
	case protocol.TagFrame:
		return e.encodeVideo(cmd)
	case protocol.TagAudio:
		e.acc.Push(cmd.Payload, cmd.Samples)
	case protocol.TagPosition:
		if e.ctl.UpdatePosition(cmd.Position) {
			e.log.Info().Msgf("Viewport %v", cmd.Position)
		}
	case protocol.TagPointer:
		e.ctl.UpdatePointer(cmd.Pointer)
	}
	return nil
}

func (e *Encoder) encodeVideo(cmd protocol.Command) error {
	if e.video == nil || e.ctl.Pending() {
		if err := e.rebind(); err != nil {
			return err
		}
	}
	if e.video == nil {
		return &protocol.FramingError{Tag: cmd.Tag, Err: protocol.ErrNoGeometry}
	}

	data, err := e.video.Encode(cmd.Payload)
	if err != nil {
		if !encoder.IsCodecError(err) {
			return err
		}
		e.drop("video", err)
		return nil
	}
	if data == nil {
		return nil
	}
	w, h := e.video.Size()
	if err = e.out.WriteVideo(data, e.timestamp(cmd.Pts, videoClock), w, h); err != nil {
		e.drop("video", err)
		return nil
	}
	e.frames.Add(1)
	monitoring.Units.WithLabelValues("video").Inc()
	return nil
}

// rebind replaces the video encoder with a new one of the current viewport size.
func (e *Encoder) rebind() error {
	if e.video != nil {
		e.video.Stop()
		e.video = nil
	}
	pos, ok := e.ctl.Begin()
	if !ok {
		return nil
	}
	v, err := encoder.NewVideo(e.newVideo, e.opts.PixFmt, int(pos.Width), int(pos.Height), e.opts.Scale, e.log)
	if err != nil {
		return err
	}
	e.video = v
	monitoring.Sessions.Inc()
	w, h := v.Size()
	e.log.Info().Msgf("Video %vx%v %v -> h264 %vx%v", pos.Width, pos.Height, e.opts.PixFmt, w, h)
	return nil
}

// encodeAudio gets full frames from the accumulator.
func (e *Encoder) encodeAudio(frame []byte) {
	e.pcm = e.opts.SampleFormat.ToS16(e.pcm, frame)
	pcm := e.pcm
	if len(pcm) != e.codecFrame {
		e.wide = media.Stretch(e.wide, pcm, e.codecFrame)
		pcm = e.wide
	}
	ts := e.audioTs
	e.audioTs += uint32(e.codecFrame / media.Channels)

	data, err := e.audio.Encode(pcm)
	if err != nil {
		e.drop("audio", &encoder.CodecError{Codec: "opus", Err: err})
		return
	}
	if err = e.out.WriteAudio(data, ts); err != nil {
		e.drop("audio", err)
		return
	}
	e.sounds.Add(1)
	monitoring.Units.WithLabelValues("audio").Inc()
}

// timestamp converts the pts in µs or the time since the start into clock units.
func (e *Encoder) timestamp(pts uint64, clock uint64) uint32 {
	if pts == 0 {
		pts = uint64(e.now().Sub(e.start).Microseconds())
	}
	return uint32(pts * clock / 1_000_000)
}

func (e *Encoder) drop(kind string, err error) {
	e.dropped.Add(1)
	monitoring.Dropped.WithLabelValues(kind).Inc()
	e.log.Warn().Err(err).Msgf("Dropped %v unit", kind)
}

func (e *Encoder) close() {
	if e.video != nil {
		e.video.Stop()
		e.video = nil
	}
	if e.acc != nil {
		if n := e.acc.Discard(); n > 0 {
			e.log.Debug().Msgf("Discarded %v audio samples", n)
		}
	}
}

// Frames returns the number of sent video units.
func (e *Encoder) Frames() uint64 { return e.frames.Load() }

// AudioFrames returns the number of sent audio frames.
func (e *Encoder) AudioFrames() uint64 { return e.sounds.Load() }

func (e *Encoder) Dropped() uint64 { return e.dropped.Load() }
