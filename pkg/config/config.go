package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the settings of both binaries,
// each one reads only its own section.
type Config struct {
	Encoder Encoder
	Player  Player
	Debug   bool
}

type Encoder struct {
	// DEST_IP:DEST_PORT
	Address string
	// raw input formats
	PixelFormat string
	AudioFormat string
	SampleRate  int
	// the initial viewport size, the input may start with frames before POS
	Width  int
	Height int

	Video struct {
		FrameRate int    `default:"15"`
		Preset    string `default:"ultrafast"`
		Profile   string `default:"baseline"`
		Tune      string `default:"zerolatency"`
		Scale     string `default:"bilinear"`
		// x264 log level, -1 (none) .. 3 (debug)
		LogLevel int
	}
	Audio struct {
		// one Opus frame in ms
		Frame      int `default:"20"`
		Bitrate    int `default:"96000"`
		Complexity int `default:"10"`
		FEC        bool
	}
	Protocol struct {
		// commands come without the 8-byte pts
		NoPts bool
	}
	Transport  Transport
	Monitoring Monitoring
}

type Player struct {
	// SRC_IP:SRC_PORT
	Address string

	Display struct {
		Title  string        `default:"cloud-display"`
		Cursor string        `default:"assets/cursor.png"`
		Scale  string        `default:"bilinear"`
		Tick   time.Duration `default:"50ms"`
	}
	Audio struct {
		Mute            bool
		FramesPerBuffer int `default:"960"`
	}
	Decoder struct {
		Ffmpeg string `default:"ffmpeg"`
	}
	// stdin or a ws:// url of the control commands
	Control    string `default:"stdin"`
	Transport  Transport
	Monitoring Monitoring
}

type Transport struct {
	// udp or srt
	Kind string `default:"udp"`
}

type Monitoring struct {
	Port             int  `default:"6601"`
	MetricEnabled    bool `json:"metric_enabled"`
	ProfilingEnabled bool `json:"profiling_enabled"`
	URLPrefix        string
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

func (c *Monitoring) WithFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "monitoring.port", c.Port, "Monitoring server port")
	fs.BoolVar(&c.MetricEnabled, "monitoring.metrics", c.MetricEnabled, "Enable Prometheus metrics")
	fs.BoolVar(&c.ProfilingEnabled, "monitoring.pprof", c.ProfilingEnabled, "Enable pprof profiling")
}

// NewConfig loads the config from the file named by the -c flag in args,
// the environment and the defaults.
func NewConfig(args []string) (*Config, error) {
	var conf Config
	if err := LoadConfig(&conf, ConfigPath(args)); err != nil {
		return nil, err
	}
	return &conf, nil
}

func addCommon(c *Config, fs *pflag.FlagSet) {
	fs.StringP("conf", "c", "", "Set custom configuration file path")
	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "Debug log level")
}

func (c *Config) EncoderFlags(fs *pflag.FlagSet) *Config {
	addCommon(c, fs)
	e := &c.Encoder
	fs.IntVar(&e.Width, "width", e.Width, "Initial frame width")
	fs.IntVar(&e.Height, "height", e.Height, "Initial frame height")
	fs.IntVar(&e.Video.FrameRate, "fps", e.Video.FrameRate, "Video frame rate")
	fs.StringVar(&e.Video.Preset, "preset", e.Video.Preset, "x264 preset")
	fs.StringVar(&e.Video.Tune, "tune", e.Video.Tune, "x264 tune")
	fs.StringVar(&e.Video.Scale, "scale", e.Video.Scale, "Scaling filter: nearest, bilinear, catmullrom")
	fs.IntVar(&e.Audio.Frame, "audio.frame", e.Audio.Frame, "Audio frame length in ms")
	fs.IntVar(&e.Audio.Bitrate, "audio.bitrate", e.Audio.Bitrate, "Opus bitrate")
	fs.BoolVar(&e.Protocol.NoPts, "nopts", e.Protocol.NoPts, "Input commands have no timestamps")
	fs.StringVarP(&e.Transport.Kind, "transport", "t", e.Transport.Kind, "Transport: udp, srt")
	e.Monitoring.WithFlags(fs)
	return c
}

func (c *Config) PlayerFlags(fs *pflag.FlagSet) *Config {
	addCommon(c, fs)
	p := &c.Player
	fs.StringVar(&p.Display.Title, "title", p.Display.Title, "Window title")
	fs.StringVar(&p.Display.Cursor, "cursor", p.Display.Cursor, "Cursor image (PNG)")
	fs.StringVar(&p.Display.Scale, "scale", p.Display.Scale, "Scaling filter: nearest, bilinear, catmullrom")
	fs.BoolVar(&p.Audio.Mute, "mute", p.Audio.Mute, "Disable audio output")
	fs.StringVar(&p.Decoder.Ffmpeg, "ffmpeg", p.Decoder.Ffmpeg, "Path to ffmpeg")
	fs.StringVar(&p.Control, "control", p.Control, "Control commands source: stdin or ws://host/path")
	fs.StringVarP(&p.Transport.Kind, "transport", "t", p.Transport.Kind, "Transport: udp, srt")
	p.Monitoring.WithFlags(fs)
	return c
}

var ErrArgs = errors.New("wrong number of arguments")

// Args reads DEST_IP DEST_PORT PIXEL_FORMAT [AUDIO_FORMAT SAMPLE_RATE].
func (e *Encoder) Args(args []string) error {
	if len(args) != 3 && len(args) != 5 {
		return ErrArgs
	}
	addr, err := hostPort(args[0], args[1])
	if err != nil {
		return err
	}
	e.Address, e.PixelFormat = addr, args[2]
	if len(args) == 5 {
		rate, err := strconv.Atoi(args[4])
		if err != nil || rate <= 0 {
			return fmt.Errorf("bad sample rate %q", args[4])
		}
		e.AudioFormat, e.SampleRate = args[3], rate
	}
	return nil
}

// Args reads SRC_IP SRC_PORT.
func (p *Player) Args(args []string) error {
	if len(args) != 2 {
		return ErrArgs
	}
	addr, err := hostPort(args[0], args[1])
	if err != nil {
		return err
	}
	p.Address = addr
	return nil
}

func hostPort(host, port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("bad port %q", port)
	}
	return net.JoinHostPort(host, port), nil
}
