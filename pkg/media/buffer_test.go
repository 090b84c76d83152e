package media

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

type push struct {
	sample byte
	count  uint32
}

func TestAccumulatorPush(t *testing.T) {
	tests := []struct {
		name      string
		frameSize int
		bps       int
		pushes    []push
		frames    [][]byte
		pending   int
	}{
		{
			name:      "underflow",
			frameSize: 4,
			bps:       1,
			pushes:    []push{{sample: 1, count: 3}},
			pending:   3,
		},
		{
			name:      "exact",
			frameSize: 4,
			bps:       1,
			pushes:    []push{{sample: 1, count: 4}},
			frames:    [][]byte{{1, 1, 1, 1}},
		},
		{
			name:      "many frames in one push",
			frameSize: 3,
			bps:       1,
			pushes:    []push{{sample: 1, count: 2}, {sample: 2, count: 8}},
			frames:    [][]byte{{1, 1, 2}, {2, 2, 2}, {2, 2, 2}},
			pending:   1,
		},
		{
			name:      "stereo s16",
			frameSize: 2,
			bps:       4,
			pushes:    []push{{sample: 7, count: 1}, {sample: 9, count: 2}},
			frames:    [][]byte{{7, 7, 7, 7, 9, 9, 9, 9}},
			pending:   1,
		},
		{
			name:      "empty",
			frameSize: 2,
			bps:       4,
			pushes:    []push{{sample: 7, count: 0}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var frames [][]byte
			acc, err := NewAccumulator(test.frameSize, test.bps, func(f []byte) {
				frames = append(frames, append([]byte(nil), f...))
			})
			if err != nil {
				t.Fatal(err)
			}
			for _, p := range test.pushes {
				acc.Push(samplesOf(p.sample, int(p.count)*test.bps), p.count)
			}
			if !reflect.DeepEqual(frames, test.frames) {
				t.Errorf("wrong frames %v != %v", frames, test.frames)
			}
			if acc.Pending() != test.pending {
				t.Errorf("wrong pending %v != %v", acc.Pending(), test.pending)
			}
		})
	}
}

func TestAccumulatorFrameCount(t *testing.T) {
	const frameSize = 1024
	chunks := []uint32{1, 1023, 2048, 5, 700, 3000, 1, 0, 4096, 333}

	var emitted, total int
	acc, _ := NewAccumulator(frameSize, 2, func(f []byte) {
		if len(f) != frameSize*2 {
			t.Errorf("wrong frame size %v", len(f))
		}
		emitted++
	})
	for _, n := range chunks {
		total += int(n)
		acc.Push(make([]byte, n*2), n)
	}
	if emitted != total/frameSize {
		t.Errorf("expected %v frames, got %v", total/frameSize, emitted)
	}
	if acc.Pending() != total%frameSize {
		t.Errorf("expected %v retained samples, got %v", total%frameSize, acc.Pending())
	}
	if n := acc.Discard(); n != total%frameSize || acc.Pending() != 0 {
		t.Errorf("discard failed, %v", n)
	}
}

func TestAccumulatorOrder(t *testing.T) {
	var out []byte
	acc, _ := NewAccumulator(5, 1, func(f []byte) { out = append(out, f...) })

	var in []byte
	for i := 0; i < 37; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i%7)
		in = append(in, chunk...)
		acc.Push(chunk, uint32(len(chunk)))
	}
	if !bytes.Equal(out, in[:len(out)]) {
		t.Errorf("samples were reordered")
	}
	if len(out) != len(in)/5*5 {
		t.Errorf("wrong output length %v", len(out))
	}
}

func TestAccumulatorShortChunk(t *testing.T) {
	acc, _ := NewAccumulator(4, 2, nil)
	// declares more than it has
	if n := acc.Push(make([]byte, 7), 10); n != 0 || acc.Pending() != 3 {
		t.Errorf("got %v frames and %v pending", n, acc.Pending())
	}
}

func TestNewAccumulatorBadSize(t *testing.T) {
	if _, err := NewAccumulator(0, 4, nil); err == nil {
		t.Errorf("expected an error")
	}
}

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		hz    int
		frame time.Duration
		want  int
	}{
		{hz: 48000, frame: 20 * time.Millisecond, want: 960},
		{hz: 44100, frame: 20 * time.Millisecond, want: 882},
		{hz: 48000, frame: 10 * time.Millisecond, want: 480},
		{hz: 32768, frame: 10 * time.Millisecond, want: 328},
	}
	for _, test := range tests {
		if got := FrameSamples(test.hz, test.frame); got != test.want {
			t.Errorf("%v/%v: %v != %v", test.hz, test.frame, got, test.want)
		}
	}
}

func BenchmarkAccumulatorPush(b *testing.B) {
	fn := func([]byte) {}
	acc, _ := NewAccumulator(960, 4, fn)
	s1, s2 := make([]byte, 480*4), make([]byte, 1920*4)
	for i := 0; i < b.N; i++ {
		acc.Push(s1, 480)
		acc.Push(s2, 1920)
	}
}

func samplesOf(v byte, len int) []byte { return bytes.Repeat([]byte{v}, len) }
