package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/giongto35/cloud-display/pkg/config"
	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/color"
	"github.com/giongto35/cloud-display/pkg/encoder/h264"
	"github.com/giongto35/cloud-display/pkg/encoder/opus"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/giongto35/cloud-display/pkg/monitoring"
	"github.com/giongto35/cloud-display/pkg/network/rtp"
	"github.com/giongto35/cloud-display/pkg/network/socket"
	xos "github.com/giongto35/cloud-display/pkg/os"
	"github.com/giongto35/cloud-display/pkg/pipeline"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/giongto35/cloud-display/pkg/session"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf, err := config.NewConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(xos.ExitFail)
	}
	fs := flag.NewFlagSet("encoder", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: encoder [flags] DEST_IP DEST_PORT PIXEL_FORMAT [AUDIO_FORMAT SAMPLE_RATE]\n"+
			"  pixel formats: %v\n  audio formats: PCMS16LE, PCMF32LE\n", color.Formats())
		fs.PrintDefaults()
	}
	conf.EncoderFlags(fs)
	if err = fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(xos.ExitOk)
		}
		os.Exit(xos.ExitFail)
	}
	if err = conf.Encoder.Args(fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fs.Usage()
		os.Exit(xos.ExitFail)
	}

	log := logger.NewConsole(conf.Debug, "encoder", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf.Encoder)
	}

	ctx, interrupted, stop := xos.WithTermination(context.Background())
	err = run(ctx, conf.Encoder, log)
	stop()

	switch {
	case interrupted():
		log.Info().Msg("Interrupted")
	case errors.Is(err, io.EOF):
		log.Error().Msg("input closed")
	case err != nil:
		log.Error().Err(err).Msg("encoder fail")
	}
	os.Exit(xos.ExitCode(err, interrupted()))
}

func run(ctx context.Context, conf config.Encoder, log *logger.Logger) error {
	pf, err := color.Parse(conf.PixelFormat)
	if err != nil {
		return err
	}
	mode, err := scale.ParseMode(conf.Video.Scale)
	if err != nil {
		return err
	}
	kind, err := socket.ParseKind(conf.Transport.Kind)
	if err != nil {
		return err
	}
	opts := pipeline.EncoderOptions{PixFmt: pf, Scale: mode, Timestamps: !conf.Protocol.NoPts}
	if conf.SampleRate > 0 {
		if opts.SampleFormat, err = media.ParseSampleFormat(conf.AudioFormat); err != nil {
			return err
		}
		opts.SampleRate = conf.SampleRate
		opts.Frame = time.Duration(conf.Audio.Frame) * time.Millisecond
	}

	conn, err := socket.Dial(kind, conf.Address)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer func() { _ = conn.Close() }()
	out := rtp.NewSender(conn)
	log.Info().Msgf("Sending %v to %v", kind, conf.Address)

	ctl := session.NewController()
	if conf.Width > 0 && conf.Height > 0 {
		ctl.UpdatePosition(protocol.Position{Width: int32(conf.Width), Height: int32(conf.Height)})
	}

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

	h264opts := h264.Options{
		FrameRate: conf.Video.FrameRate,
		Preset:    conf.Video.Preset,
		Profile:   conf.Video.Profile,
		Tune:      conf.Video.Tune,
		LogLevel:  int32(conf.Video.LogLevel),
	}
	newVideo := func(w, h int) (encoder.VideoEncoder, error) { return h264.NewEncoder(w, h, h264opts) }
	newAudio := func() (encoder.AudioEncoder, error) {
		return opus.NewEncoder(media.Channels, opus.Options{
			Bitrate:    conf.Audio.Bitrate,
			Complexity: conf.Audio.Complexity,
			FEC:        conf.Audio.FEC,
		})
	}

	enc, err := pipeline.NewEncoder(ctl, opts, newVideo, newAudio, out, log.Component("pipe"))
	if err != nil {
		return err
	}

	// the stdin read can't be interrupted
	done := make(chan error, 1)
	go func() { done <- enc.Run(ctx, os.Stdin) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	log.Info().Msgf("Sent %v video and %v audio units, %v dropped, %v packets",
		enc.Frames(), enc.AudioFrames(), enc.Dropped(), out.Packets())
	return err
}
