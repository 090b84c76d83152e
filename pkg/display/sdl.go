// Package display shows the decoded video in SDL windows and
// plays the decoded audio with PortAudio.
package display

import (
	"errors"
	"fmt"
	"image"

	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/giongto35/cloud-display/pkg/session"
	"github.com/giongto35/cloud-display/pkg/thread"
	"github.com/veandco/go-sdl2/sdl"
)

// SDL opens a borderless window for every viewport.
// All SDL calls go to the main thread.
type SDL struct {
	title string
	log   *logger.Logger
}

func NewSDL(title string, log *logger.Logger) (*SDL, error) {
	if err := thread.CallErr(func() error { return sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS) }); err != nil {
		return nil, fmt.Errorf("sdl: %w", err)
	}
	return &SDL{title: title, log: log}, nil
}

func (d *SDL) Open(pos protocol.Position) (session.Surface, error) {
	s := &surface{w: int(pos.Width), h: int(pos.Height)}
	err := thread.CallErr(func() (err error) {
		s.win, err = sdl.CreateWindow(d.title, pos.X, pos.Y, pos.Width, pos.Height,
			sdl.WINDOW_SHOWN|sdl.WINDOW_BORDERLESS|sdl.WINDOW_ALWAYS_ON_TOP)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		s.r, err = sdl.CreateRenderer(s.win, -1, sdl.RENDERER_ACCELERATED)
		if err != nil {
			return errors.Join(fmt.Errorf("renderer: %w", err), s.destroy())
		}
		// RGBA bytes in memory
		s.tex, err = s.r.CreateTexture(sdl.PIXELFORMAT_ABGR8888, sdl.TEXTUREACCESS_STREAMING, pos.Width, pos.Height)
		if err != nil {
			return errors.Join(fmt.Errorf("texture: %w", err), s.destroy())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Debug().Msgf("SDL window %v", pos)
	return s, nil
}

// Poll reads the pending window events and tells if the user closed the player.
func (d *SDL) Poll() (quit bool) {
	thread.Call(func() {
		for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
			switch ev := e.(type) {
			case *sdl.QuitEvent:
				quit = true
			case *sdl.KeyboardEvent:
				if ev.Keysym.Sym == sdl.K_ESCAPE && ev.State == sdl.PRESSED {
					quit = true
				}
			}
		}
	})
	return
}

func (d *SDL) Close() { thread.Call(sdl.Quit) }

type surface struct {
	w, h int
	win  *sdl.Window
	r    *sdl.Renderer
	tex  *sdl.Texture
}

func (s *surface) Present(frame *image.RGBA) error {
	if frame.Rect.Dx() != s.w || frame.Rect.Dy() != s.h {
		return fmt.Errorf("frame %v doesn't fit %vx%v", frame.Rect, s.w, s.h)
	}
	return thread.CallErr(func() error {
		pix, pitch, err := s.tex.Lock(nil)
		if err != nil {
			return err
		}
		row := s.w * 4
		for y := 0; y < s.h; y++ {
			copy(pix[y*pitch:y*pitch+row], frame.Pix[y*frame.Stride:y*frame.Stride+row])
		}
		s.tex.Unlock()

		if err = s.r.Clear(); err != nil {
			return err
		}
		if err = s.r.Copy(s.tex, nil, nil); err != nil {
			return err
		}
		s.r.Present()
		return nil
	})
}

func (s *surface) Close() error { return thread.CallErr(s.destroy) }

func (s *surface) destroy() error {
	var errs []error
	if s.tex != nil {
		errs = append(errs, s.tex.Destroy())
		s.tex = nil
	}
	if s.r != nil {
		errs = append(errs, s.r.Destroy())
		s.r = nil
	}
	if s.win != nil {
		errs = append(errs, s.win.Destroy())
		s.win = nil
	}
	return errors.Join(errs...)
}
