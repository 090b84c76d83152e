package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/giongto35/cloud-display/pkg/config"
	"github.com/giongto35/cloud-display/pkg/display"
	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/h264"
	"github.com/giongto35/cloud-display/pkg/encoder/opus"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/giongto35/cloud-display/pkg/monitoring"
	"github.com/giongto35/cloud-display/pkg/network/rtp"
	"github.com/giongto35/cloud-display/pkg/network/socket"
	"github.com/giongto35/cloud-display/pkg/network/websocket"
	xos "github.com/giongto35/cloud-display/pkg/os"
	"github.com/giongto35/cloud-display/pkg/pipeline"
	"github.com/giongto35/cloud-display/pkg/session"
	"github.com/giongto35/cloud-display/pkg/thread"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf, err := config.NewConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(xos.ExitFail)
	}
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: player [flags] SRC_IP SRC_PORT\n")
		fs.PrintDefaults()
	}
	conf.PlayerFlags(fs)
	if err = fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(xos.ExitOk)
		}
		os.Exit(xos.ExitFail)
	}
	if err = conf.Player.Args(fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fs.Usage()
		os.Exit(xos.ExitFail)
	}

	log := logger.NewConsole(conf.Debug, "player", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf.Player)
	}

	code := xos.ExitFail
	// SDL wants the main thread
	thread.Wrap(func() {
		ctx, interrupted, stop := xos.WithTermination(context.Background())
		err := run(ctx, conf.Player, log)
		stop()

		switch {
		case interrupted():
			log.Info().Msg("Interrupted")
		case errors.Is(err, session.ErrQuit):
			log.Info().Msg("Quit")
			err = nil
		case errors.Is(err, io.EOF):
			log.Error().Msg("input closed")
		case err != nil:
			log.Error().Err(err).Msg("player fail")
		}
		code = xos.ExitCode(err, interrupted())
	})
	os.Exit(code)
}

func run(ctx context.Context, conf config.Player, log *logger.Logger) error {
	mode, err := scale.ParseMode(conf.Display.Scale)
	if err != nil {
		return err
	}
	kind, err := socket.ParseKind(conf.Transport.Kind)
	if err != nil {
		return err
	}

	var cursor image.Image
	switch path := conf.Display.Cursor; {
	case path == "":
	case !xos.Exists(path):
		log.Warn().Msgf("No cursor at %v, the pointer won't be drawn", path)
	default:
		if img, err := display.LoadCursor(path); err != nil {
			log.Warn().Err(err).Msg("Bad cursor, the pointer won't be drawn")
		} else {
			cursor = img
		}
	}

	ctl := session.NewController()
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, func() any { return ctl.Snapshot() }, log)
		if err != nil {
			return err
		}
		mon.Run()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = mon.Shutdown(sctx)
		}()
	}

	var control io.Reader = os.Stdin
	if conf.Control != "" && conf.Control != "stdin" {
		ws, err := websocket.Dial(ctx, conf.Control)
		if err != nil {
			return fmt.Errorf("control: %w", err)
		}
		defer func() { _ = ws.Close() }()
		control = ws
		log.Info().Msgf("Control from %v", conf.Control)
	}

	log.Info().Msgf("Waiting for %v on %v", kind, conf.Address)
	conn, err := socket.Listen(ctx, kind, conf.Address)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer func() { _ = conn.Close() }()
	in := rtp.NewReceiver(conn, log.Component("rtp"))

	var audio encoder.AudioDecoder
	if !conf.Audio.Mute {
		dec, err := opus.NewDecoder(media.Channels)
		if err != nil {
			return &encoder.ResourceError{What: "audio decoder", Err: err}
		}
		audio = dec
	}
	p := pipeline.NewPlayer(ctl, in, audio, log)

	if audio != nil {
		speaker, err := display.NewSpeaker(p.Audio(), conf.Audio.FramesPerBuffer)
		if err != nil {
			return &encoder.ResourceError{What: "audio output", Err: err}
		}
		defer func() { _ = speaker.Close() }()
		if err = speaker.Start(); err != nil {
			return &encoder.ResourceError{What: "audio output", Err: err}
		}
	}

	screen, err := display.NewSDL(conf.Display.Title, log.Component("sdl"))
	if err != nil {
		return &encoder.ResourceError{What: "display", Err: err}
	}
	defer screen.Close()

	video := h264.NewStream(conf.Decoder.Ffmpeg, log.Component("h264"))
	defer func() { _ = video.Close() }()

	loop := session.NewLoop(ctl, p.Video(), video, screen, log,
		session.WithCursor(cursor),
		session.WithScale(mode),
		session.WithTick(conf.Display.Tick),
	)
	err = p.Run(ctx, control, loop)
	log.Info().Msgf("Rendered %v frames, dropped %v video and %v audio units, %v RTP skipped, %v lost",
		loop.Rendered(), loop.Dropped(), p.Dropped(), in.Skipped(), in.Lost())
	return err
}
