package session

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
)

// ErrQuit is returned by the loop when the display asked to quit.
var ErrQuit = errors.New("quit")

// DefaultTick is the longest wait for a packet before the display events are polled.
const DefaultTick = 50 * time.Millisecond

// Loop renders video packets into the current session.
//
// It checks for a viewport change only between packets,
// a packet is never interrupted. The decoder and the last decoded
// picture outlive sessions, a new session starts with that picture.
type Loop struct {
	ctl     *Controller
	video   *media.Queue
	dec     Decoder
	display Display
	cursor  image.Image
	mode    scale.Mode
	tick    time.Duration
	log     *logger.Logger

	s      *Session
	last   *image.RGBA
	sctx   context.Context
	cancel context.CancelFunc

	rendered atomic.Uint64
	dropped  atomic.Uint64
}

type LoopOption func(*Loop)

// WithCursor sets the pointer image, nil disables the pointer.
func WithCursor(img image.Image) LoopOption { return func(l *Loop) { l.cursor = img } }

func WithScale(mode scale.Mode) LoopOption { return func(l *Loop) { l.mode = mode } }

func WithTick(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.tick = d
		}
	}
}

func NewLoop(ctl *Controller, video *media.Queue, dec Decoder, display Display, log *logger.Logger, opts ...LoopOption) *Loop {
	l := &Loop{ctl: ctl, video: video, dec: dec, display: display, tick: DefaultTick, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run runs the loop until the display quits, the context is done,
// the video queue is closed or a fatal error happens.
func (l *Loop) Run(ctx context.Context) error {
	defer l.end()
	for {
		if l.display.Poll() {
			return ErrQuit
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.ctl.Pending() {
			if err := l.restart(ctx); err != nil {
				return err
			}
		} else if l.sctx != nil && l.sctx.Err() != nil {
			// woken up by a change that was already taken
			l.watch(ctx)
		}
		if err := l.next(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) next(ctx context.Context) error {
	wait := ctx
	if l.sctx != nil {
		wait = l.sctx
	}
	wctx, cancel := context.WithTimeout(wait, l.tick)
	pkt, err := l.video.Get(wctx)
	cancel()
	if err != nil {
		if errors.Is(err, media.ErrQueueClosed) {
			return err
		}
		// tick or a viewport change
		return ctx.Err()
	}
	return l.render(ctx, pkt)
}

func (l *Loop) render(ctx context.Context, pkt media.Packet) error {
	pic, err := l.dec.Decode(pkt.Data, pkt.Width, pkt.Height)
	if err != nil {
		if !encoder.IsCodecError(err) {
			return err
		}
		l.dropped.Add(1)
		l.log.Warn().Err(err).Msgf("Dropped video unit [%v]", pkt.Timestamp)
		return nil
	}
	if pic == nil {
		return nil
	}
	l.last = pic

	if l.s == nil {
		l.ctl.Resolve(pic.Rect.Dx(), pic.Rect.Dy())
		if l.ctl.Pending() {
			return l.restart(ctx)
		}
		return nil
	}
	l.draw(pic)
	return nil
}

func (l *Loop) draw(pic *image.RGBA) {
	if err := l.s.Render(pic, l.ctl.Pointer()); err != nil {
		l.dropped.Add(1)
		l.log.Warn().Err(err).Msg("Present fail")
		return
	}
	l.rendered.Add(1)
}

// restart ends the current session and begins a new one
// with the current viewport.
func (l *Loop) restart(ctx context.Context) error {
	l.end()

	pos, ok := l.ctl.Begin()
	if !ok {
		l.log.Info().Msgf("No viewport %v", pos)
		return nil
	}
	s, err := Open(pos, l.display, l.cursor, l.mode)
	if err != nil {
		return err
	}
	l.s = s
	l.ctl.setSession(s.ID)
	l.watch(ctx)
	l.log.Info().Str("session", s.ID).Msgf("Session start %v", pos)

	if l.last != nil {
		l.draw(l.last)
	}
	return nil
}

// watch turns a change signal into a cancel of the session context,
// so the wait for the next packet ends early.
func (l *Loop) watch(ctx context.Context) {
	l.sctx, l.cancel = context.WithCancel(ctx)
	sctx, cancel := l.sctx, l.cancel
	go func() {
		select {
		case <-l.ctl.Signal():
			if sctx.Err() != nil {
				// not ours, pass it to the next session
				l.ctl.notify()
			}
			cancel()
		case <-sctx.Done():
		}
	}()
}

func (l *Loop) end() {
	if l.cancel != nil {
		l.cancel()
		l.sctx, l.cancel = nil, nil
	}
	if l.s == nil {
		return
	}
	s := l.s
	l.s = nil
	if err := s.Close(); err != nil {
		l.log.Warn().Err(err).Msg("Session close fail")
	}
	l.ctl.setSession("")
	l.log.Info().Str("session", s.ID).Msgf("Session end, %v frames in %v", s.Frames(), s.Uptime().Round(time.Millisecond))
}

func (l *Loop) Rendered() uint64 { return l.rendered.Load() }

// Dropped returns the number of video units that failed to decode or present.
func (l *Loop) Dropped() uint64 { return l.dropped.Load() }
