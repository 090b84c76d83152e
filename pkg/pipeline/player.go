package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/giongto35/cloud-display/pkg/monitoring"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/giongto35/cloud-display/pkg/session"
	"golang.org/x/sync/errgroup"
)

// Source gives the media units of the stream, rtp.Receiver is one.
type Source interface {
	Next() (media.Packet, error)
}

// Renderer runs the render loop, session.Loop is one.
type Renderer interface {
	Run(ctx context.Context) error
}

// Player shows the received stream at the viewport of the control commands.
type Player struct {
	ctl   *session.Controller
	src   Source
	audio encoder.AudioDecoder
	video *media.Queue
	sound *media.Queue
	log   *logger.Logger

	commands atomic.Uint64
	dropped  atomic.Uint64
}

// NewPlayer makes a player, a nil audio decoder mutes the sound.
func NewPlayer(ctl *session.Controller, src Source, audio encoder.AudioDecoder, log *logger.Logger) *Player {
	p := &Player{
		ctl:   ctl,
		src:   src,
		audio: audio,
		video: media.NewQueue(),
		sound: media.NewQueue(),
		log:   log,
	}
	p.video.OnLen(queueGauge(media.KindVideo))
	p.sound.OnLen(queueGauge(media.KindAudio))
	return p
}

func queueGauge(k media.Kind) func(int) {
	g := monitoring.Queued.WithLabelValues(k.String())
	return func(n int) { g.Set(float64(n)) }
}

// Video is the queue of compressed video units for the render loop.
func (p *Player) Video() *media.Queue { return p.video }

// Audio is the queue of decoded PCM for the speaker.
func (p *Player) Audio() *media.Queue { return p.sound }

// Control applies POS and PTR commands from r until it ends or fails.
// A clean end of the stream is returned as io.EOF.
func (p *Player) Control(r io.Reader) error {
	in := protocol.NewReader(r, protocol.AllowTags(protocol.TagPosition, protocol.TagPointer))
	for {
		cmd, err := in.ReadCommand()
		if err != nil {
			return err
		}
		p.commands.Add(1)
		monitoring.Commands.WithLabelValues(cmd.Tag.Name()).Inc()
		switch cmd.Tag {
		case protocol.TagPosition:
			if p.ctl.UpdatePosition(cmd.Position) {
				p.log.Info().Msgf("Viewport %v", cmd.Position)
			}
		case protocol.TagPointer:
			p.ctl.UpdatePointer(cmd.Pointer)
		}
	}
}

// Demux moves the received units into the video and audio queues
// until the source fails.
func (p *Player) Demux() error {
	for {
		pkt, err := p.src.Next()
		if err != nil {
			return err
		}
		switch pkt.Kind {
		case media.KindVideo:
			p.video.Put(pkt)
		case media.KindAudio:
			if p.audio == nil {
				continue
			}
			pcm, err := p.audio.Decode(pkt.Data)
			if err != nil {
				p.dropped.Add(1)
				monitoring.Dropped.WithLabelValues("audio").Inc()
				p.log.Debug().Err(err).Msgf("Dropped audio unit [%v]", pkt.Timestamp)
				continue
			}
			p.sound.Put(media.Packet{Kind: media.KindAudio, Timestamp: pkt.Timestamp, PCM: pcm})
		}
		monitoring.Units.WithLabelValues(pkt.Kind.String()).Inc()
	}
}

// Run reads the control stream and the media in the background and
// renders in the calling goroutine until one of them stops.
//
// Blocked reads of the control stream and the transport are not waited for,
// the caller closes them.
func (p *Player) Run(ctx context.Context, control io.Reader, render Renderer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Control(control) })
	g.Go(p.Demux)

	err := render.Run(gctx)
	p.video.Close()
	p.sound.Close()

	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// one of the readers has stopped
		return context.Cause(gctx)
	}
	if errors.Is(err, media.ErrQueueClosed) {
		return context.Cause(gctx)
	}
	return err
}

// Commands returns the number of applied control commands.
func (p *Player) Commands() uint64 { return p.commands.Load() }

func (p *Player) Dropped() uint64 { return p.dropped.Load() }
