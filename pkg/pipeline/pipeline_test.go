package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-display/pkg/encoder"
	"github.com/giongto35/cloud-display/pkg/encoder/color"
	"github.com/giongto35/cloud-display/pkg/encoder/scale"
	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/giongto35/cloud-display/pkg/monitoring"
	"github.com/giongto35/cloud-display/pkg/protocol"
	"github.com/giongto35/cloud-display/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var l = logger.New(false)

type sent struct {
	kind string
	ts   uint32
	w, h int
}

type sink struct {
	mu   sync.Mutex
	out  []sent
	fail bool
}

func (s *sink) WriteVideo(au []byte, ts uint32, w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unreachable")
	}
	s.out = append(s.out, sent{kind: "video", ts: ts, w: w, h: h})
	return nil
}

func (s *sink) WriteAudio(frame []byte, ts uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, sent{kind: "audio", ts: ts})
	return nil
}

type videoCodec struct {
	w, h int
	n    int
	errs map[int]error
}

func (c *videoCodec) Encode(img *image.RGBA) ([]byte, error) {
	n := c.n
	c.n++
	if err := c.errs[n]; err != nil {
		return nil, err
	}
	return []byte{0, 0, 0, 1, byte(n)}, nil
}

func (c *videoCodec) Close() error { return nil }

type videoCodecs struct {
	made []*videoCodec
	errs map[int]error
}

func (v *videoCodecs) New(w, h int) (encoder.VideoEncoder, error) {
	c := &videoCodec{w: w, h: h, errs: v.errs}
	v.made = append(v.made, c)
	return c, nil
}

type audioCodec struct{ frames []int }

func (a *audioCodec) Encode(pcm []int16) ([]byte, error) {
	a.frames = append(a.frames, len(pcm))
	return []byte{1}, nil
}

func newTestEncoder(t *testing.T, opts EncoderOptions, codecs *videoCodecs, audio *audioCodec, out Sink) (*Encoder, *session.Controller) {
	t.Helper()
	if opts.PixFmt == (color.PixFmt{}) {
		pf, err := color.Parse("RGB888")
		if err != nil {
			t.Fatal(err)
		}
		opts.PixFmt = pf
	}
	ctl := session.NewController()
	e, err := NewEncoder(ctl, opts, codecs.New, func() (encoder.AudioEncoder, error) { return audio, nil }, out, l)
	if err != nil {
		t.Fatal(err)
	}
	return e, ctl
}

func TestEncoderFrame(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{Width: 640, Height: 480})
	_ = w.WriteFrame(0, make([]byte, 640*480*3))

	codecs, out := &videoCodecs{}, &sink{}
	e, _ := newTestEncoder(t, EncoderOptions{}, codecs, nil, out)

	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(out.out) != 1 || out.out[0].kind != "video" || out.out[0].w != 640 || out.out[0].h != 480 {
		t.Errorf("wrong output %+v", out.out)
	}
	if len(codecs.made) != 1 || e.Frames() != 1 {
		t.Errorf("expected 1 codec and 1 frame, got %v and %v", len(codecs.made), e.Frames())
	}
}

func TestEncoderTimestamps(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, true)
	_ = w.WritePosition(protocol.Position{Width: 4, Height: 2})
	_ = w.WriteFrame(1_000_000, make([]byte, 4*2*3))
	_ = w.WriteFrame(1_500_000, make([]byte, 4*2*3))

	out := &sink{}
	e, _ := newTestEncoder(t, EncoderOptions{Timestamps: true}, &videoCodecs{}, nil, out)
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	want := []sent{{kind: "video", ts: 90000, w: 4, h: 2}, {kind: "video", ts: 135000, w: 4, h: 2}}
	if !reflect.DeepEqual(out.out, want) {
		t.Errorf("got %+v, want %+v", out.out, want)
	}
}

func TestEncoderClockWithoutPts(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{Width: 2, Height: 2})
	_ = w.WriteFrame(0, make([]byte, 2*2*3))

	out := &sink{}
	e, _ := newTestEncoder(t, EncoderOptions{}, &videoCodecs{}, nil, out)
	start := time.Unix(100, 0)
	calls := 0
	e.now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(2 * time.Second)
	}
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(out.out) != 1 || out.out[0].ts != 180000 {
		t.Errorf("wrong timestamp %+v", out.out)
	}
}

func TestEncoderAudio(t *testing.T) {
	tests := []struct {
		name    string
		rate    int
		frame   int
		dur     time.Duration
		samples uint32
		want    []int
		ts      []uint32
	}{
		{name: "two frames", rate: 48000, frame: 1024, samples: 2048, want: []int{2048, 2048}, ts: []uint32{0, 1024}},
		{name: "partial frame", rate: 48000, frame: 960, samples: 1500, want: []int{1920}, ts: []uint32{0}},
		{name: "stretched", rate: 24000, frame: 480, samples: 960, want: []int{1920, 1920}, ts: []uint32{0, 960}},
		{name: "uneven rate", rate: 11025, dur: 20 * time.Millisecond, samples: 442, want: []int{1920, 1920}, ts: []uint32{0, 960}},
		{name: "short uneven frame", rate: 44100, dur: 2500 * time.Microsecond, samples: 220, want: []int{240, 240}, ts: []uint32{0, 120}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var in bytes.Buffer
			w := protocol.NewWriter(&in, false)
			_ = w.WriteAudio(0, test.samples, make([]byte, int(test.samples)*4))

			audio, out := &audioCodec{}, &sink{}
			e, _ := newTestEncoder(t, EncoderOptions{
				SampleFormat: media.PCMS16LE,
				SampleRate:   test.rate,
				FrameSamples: test.frame,
				Frame:        test.dur,
			}, &videoCodecs{}, audio, out)

			if err := e.Run(context.Background(), &in); err != io.EOF {
				t.Fatalf("expected EOF, got %v", err)
			}
			if !reflect.DeepEqual(audio.frames, test.want) {
				t.Errorf("encoded %v, want %v", audio.frames, test.want)
			}
			var ts []uint32
			for _, s := range out.out {
				ts = append(ts, s.ts)
			}
			if !reflect.DeepEqual(ts, test.ts) {
				t.Errorf("timestamps %v, want %v", ts, test.ts)
			}
		})
	}
}

func TestEncoderSamePositionTwice(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	pos := protocol.Position{Width: 800, Height: 600}
	_ = w.WritePosition(pos)
	_ = w.WritePosition(pos)
	_ = w.WriteFrame(0, make([]byte, 800*600*3))
	_ = w.WritePosition(pos)
	_ = w.WriteFrame(0, make([]byte, 800*600*3))

	codecs := &videoCodecs{}
	e, ctl := newTestEncoder(t, EncoderOptions{}, codecs, nil, &sink{})
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if ctl.Changes() != 1 || ctl.Begins() != 1 || len(codecs.made) != 1 {
		t.Errorf("expected one session, got %v changes %v begins %v codecs", ctl.Changes(), ctl.Begins(), len(codecs.made))
	}
}

func TestEncoderRebind(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{Width: 4, Height: 4})
	_ = w.WriteFrame(0, make([]byte, 4*4*3))
	_ = w.WritePosition(protocol.Position{X: 10, Width: 4, Height: 4})
	_ = w.WritePosition(protocol.Position{Width: 5, Height: 3})
	_ = w.WriteFrame(0, make([]byte, 5*3*3))

	codecs, out := &videoCodecs{}, &sink{}
	e, _ := newTestEncoder(t, EncoderOptions{Scale: scale.NearestNeighbour}, codecs, nil, out)
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(codecs.made) != 2 {
		t.Fatalf("expected 2 codecs, got %v", len(codecs.made))
	}
	if c := codecs.made[1]; c.w != 6 || c.h != 4 {
		t.Errorf("odd frame is not scaled to even, %vx%v", c.w, c.h)
	}
	if len(out.out) != 2 || out.out[1].w != 6 || out.out[1].h != 4 {
		t.Errorf("wrong output %+v", out.out)
	}
}

func TestEncoderDrops(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{Width: 2, Height: 2})
	for i := 0; i < 3; i++ {
		_ = w.WriteFrame(0, make([]byte, 2*2*3))
	}

	codecs, out := &videoCodecs{errs: map[int]error{1: errors.New("bad picture")}}, &sink{}
	e, _ := newTestEncoder(t, EncoderOptions{}, codecs, nil, out)
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if e.Frames() != 2 || e.Dropped() != 1 {
		t.Errorf("expected 2 frames and 1 drop, got %v and %v", e.Frames(), e.Dropped())
	}

	in.Reset()
	_ = w.WritePosition(protocol.Position{Width: 2, Height: 2})
	_ = w.WriteFrame(0, make([]byte, 2*2*3))
	e, _ = newTestEncoder(t, EncoderOptions{}, &videoCodecs{}, nil, &sink{fail: true})
	if err := e.Run(context.Background(), &in); err != io.EOF {
		t.Fatalf("send fail should not stop the encoder, got %v", err)
	}
	if e.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %v", e.Dropped())
	}
}

func TestEncoderFatal(t *testing.T) {
	tests := []struct {
		name  string
		input func(w *protocol.Writer, buf *bytes.Buffer)
	}{
		{
			name:  "frame without geometry",
			input: func(w *protocol.Writer, _ *bytes.Buffer) { _ = w.WriteFrame(0, make([]byte, 12)) },
		},
		{
			name:  "unknown tag",
			input: func(_ *protocol.Writer, buf *bytes.Buffer) { buf.WriteString("XYZ\n") },
		},
		{
			name:  "oversized viewport",
			input: func(w *protocol.Writer, _ *bytes.Buffer) { _ = w.WritePosition(protocol.Position{Width: 1 << 20, Height: 1 << 20}) },
		},
		{
			name:  "audio without audio format",
			input: func(w *protocol.Writer, _ *bytes.Buffer) { _ = w.WriteAudio(0, 1, make([]byte, 4)) },
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var in bytes.Buffer
			test.input(protocol.NewWriter(&in, false), &in)
			e, _ := newTestEncoder(t, EncoderOptions{}, &videoCodecs{}, nil, &sink{})
			var fe *protocol.FramingError
			if err := e.Run(context.Background(), &in); !errors.As(err, &fe) {
				t.Errorf("expected a framing error, got %v", err)
			}
		})
	}
}

func TestEncoderTruncatedFrame(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{Width: 2, Height: 2})
	_ = w.WriteFrame(0, make([]byte, 2*2*3))
	in.Truncate(in.Len() - 5)

	e, _ := newTestEncoder(t, EncoderOptions{}, &videoCodecs{}, nil, &sink{})
	var ie *protocol.IOError
	if err := e.Run(context.Background(), &in); !errors.As(err, &ie) {
		t.Errorf("expected an io error, got %v", err)
	}
}

type packets struct {
	mu    sync.Mutex
	list  []media.Packet
	start chan struct{}
	done  chan struct{}
}

func (p *packets) Next() (media.Packet, error) {
	if p.start != nil {
		<-p.start
	}
	p.mu.Lock()
	if len(p.list) > 0 {
		pkt := p.list[0]
		p.list = p.list[1:]
		p.mu.Unlock()
		return pkt, nil
	}
	p.mu.Unlock()
	<-p.done
	return media.Packet{}, io.ErrClosedPipe
}

type audioDecoder struct{ fail bool }

func (a audioDecoder) Decode(data []byte) ([]int16, error) {
	if a.fail {
		return nil, errors.New("bad frame")
	}
	return make([]int16, 4), nil
}

func TestPlayerDemux(t *testing.T) {
	src := &packets{done: make(chan struct{}), list: []media.Packet{
		{Kind: media.KindVideo, Data: []byte{1}, Width: 2, Height: 2},
		{Kind: media.KindAudio, Data: []byte{1}},
		{Kind: media.KindAudio, Data: []byte{2}},
	}}
	close(src.done)

	p := NewPlayer(session.NewController(), src, audioDecoder{}, l)
	if err := p.Demux(); err != io.ErrClosedPipe {
		t.Errorf("expected the source error, got %v", err)
	}
	if p.Video().Len() != 1 || p.Audio().Len() != 2 {
		t.Errorf("wrong queues %v %v", p.Video().Len(), p.Audio().Len())
	}
	pkt, _ := p.Audio().TryGet()
	if len(pkt.PCM) != 4 {
		t.Errorf("audio is not decoded %+v", pkt)
	}
	_, _ = p.Video().TryGet()
	queued := []float64{
		testutil.ToFloat64(monitoring.Queued.WithLabelValues("video")),
		testutil.ToFloat64(monitoring.Queued.WithLabelValues("audio")),
	}
	if want := []float64{0, 1}; !reflect.DeepEqual(queued, want) {
		t.Errorf("expected queue gauges %v, got %v", want, queued)
	}

	src.list = []media.Packet{{Kind: media.KindAudio}, {Kind: media.KindAudio}}
	muted := NewPlayer(session.NewController(), src, nil, l)
	_ = muted.Demux()
	if muted.Audio().Len() != 0 || muted.Dropped() != 0 {
		t.Errorf("muted player has audio")
	}

	src.list = []media.Packet{{Kind: media.KindAudio}}
	broken := NewPlayer(session.NewController(), src, audioDecoder{fail: true}, l)
	_ = broken.Demux()
	if broken.Audio().Len() != 0 || broken.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %v", broken.Dropped())
	}
}

func TestPlayerControl(t *testing.T) {
	var in bytes.Buffer
	w := protocol.NewWriter(&in, false)
	_ = w.WritePosition(protocol.Position{X: 5, Y: 6, Width: 100, Height: 50})
	_ = w.WritePosition(protocol.Position{X: 5, Y: 6, Width: 100, Height: 50})
	_ = w.WritePointer(protocol.Pointer{X: 1, Y: 2, Visible: true})

	ctl := session.NewController()
	p := NewPlayer(ctl, &packets{}, nil, l)
	if err := p.Control(&in); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if ctl.Changes() != 1 || p.Commands() != 3 {
		t.Errorf("expected 1 change of 3 commands, got %v of %v", ctl.Changes(), p.Commands())
	}
	if ptr := ctl.Pointer(); ptr.X != 1 || ptr.Y != 2 || !ptr.Visible {
		t.Errorf("wrong pointer %+v", ptr)
	}

	in.Reset()
	_ = w.WriteFrame(0, nil)
	var fe *protocol.FramingError
	if err := p.Control(&in); !errors.As(err, &fe) {
		t.Errorf("frames are not allowed in the control stream, got %v", err)
	}
}

type display struct {
	mu     sync.Mutex
	opened []protocol.Position
	frames int
	quit   bool
}

func (d *display) Open(pos protocol.Position) (session.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, pos)
	return surface{d}, nil
}

func (d *display) Poll() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit
}

func (d *display) state() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened), d.frames
}

type surface struct{ d *display }

func (s surface) Present(*image.RGBA) error {
	s.d.mu.Lock()
	s.d.frames++
	s.d.mu.Unlock()
	return nil
}

func (s surface) Close() error { return nil }

type videoDecoder struct{}

func (videoDecoder) Decode(au []byte, w, h int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func TestPlayerRun(t *testing.T) {
	src := &packets{start: make(chan struct{}), done: make(chan struct{})}
	for i := 0; i < 3; i++ {
		src.list = append(src.list, media.Packet{Kind: media.KindVideo, Timestamp: uint32(i), Data: []byte{1}, Width: 8, Height: 8})
	}
	ctl := session.NewController()
	p := NewPlayer(ctl, src, nil, l)
	d := &display{}
	loop := session.NewLoop(ctl, p.Video(), videoDecoder{}, d, l, session.WithTick(5*time.Millisecond))

	r, w := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), r, loop) }()

	cw := protocol.NewWriter(w, false)
	pos := protocol.Position{X: 10, Y: 10, Width: 8, Height: 8}
	_ = cw.WritePosition(pos)
	_ = cw.WritePosition(pos)
	close(src.start)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if opened, frames := d.state(); opened == 1 && frames >= 3 {
			break
		}
		if time.Now().After(deadline) {
			opened, frames := d.state()
			t.Fatalf("expected 1 session with 3 frames, got %v with %v", opened, frames)
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = w.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("expected EOF of the control stream, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("player didn't stop")
	}
	close(src.done)

	if opened, _ := d.state(); opened != 1 {
		t.Errorf("expected 1 window, got %v", opened)
	}
}

func TestPlayerQuit(t *testing.T) {
	src := &packets{done: make(chan struct{})}
	defer close(src.done)
	ctl := session.NewController()
	p := NewPlayer(ctl, src, nil, l)
	loop := session.NewLoop(ctl, p.Video(), videoDecoder{}, &display{quit: true}, l)

	r, _ := io.Pipe()
	defer func() { _ = r.Close() }()
	if err := p.Run(context.Background(), r, loop); err != session.ErrQuit {
		t.Errorf("expected quit, got %v", err)
	}
}

func TestPlayerCancel(t *testing.T) {
	src := &packets{done: make(chan struct{})}
	defer close(src.done)
	ctl := session.NewController()
	p := NewPlayer(ctl, src, nil, l)
	loop := session.NewLoop(ctl, p.Video(), videoDecoder{}, &display{}, l, session.WithTick(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := io.Pipe()
	defer func() { _ = r.Close() }()
	if err := p.Run(ctx, r, loop); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancel, got %v", err)
	}
}
