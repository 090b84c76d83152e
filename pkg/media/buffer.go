package media

import (
	"fmt"
	"math"
	"time"
)

type OnFrame func(frame []byte)

// Accumulator regroups raw audio chunks of any size into codec frames
// of exactly frameSize samples.
// It's not safe for concurrent use.
type Accumulator struct {
	buf     []byte
	bps     int
	wi      int
	onFrame OnFrame
}

// NewAccumulator makes a new accumulator for frames of frameSize samples
// where one (multichannel) sample takes bytesPerSample bytes.
// The frame passed to onFrame is reused after the callback returns.
func NewAccumulator(frameSize, bytesPerSample int, onFrame OnFrame) (*Accumulator, error) {
	if frameSize <= 0 || bytesPerSample <= 0 {
		return nil, fmt.Errorf("bad audio frame %v x %vB", frameSize, bytesPerSample)
	}
	return &Accumulator{buf: make([]byte, frameSize*bytesPerSample), bps: bytesPerSample, onFrame: onFrame}, nil
}

// Push copies count samples into the internal frame buffer and
// calls the callback each time the buffer fills out.
//
// A chunk that is bigger than the free space of the buffer can produce several frames.
// Samples of an incomplete frame stay in the buffer until the next Push.
// It returns the number of emitted frames.
func (a *Accumulator) Push(samples []byte, count uint32) (frames int) {
	n := int(count) * a.bps
	if n > len(samples) {
		n = len(samples) - len(samples)%a.bps
	}
	for r := 0; r < n; {
		w := copy(a.buf[a.wi:], samples[r:n])
		r += w
		a.wi += w
		if a.wi == len(a.buf) {
			a.wi = 0
			frames++
			if a.onFrame != nil {
				a.onFrame(a.buf)
			}
		}
	}
	return
}

// Pending returns the number of samples waiting for a full frame.
func (a *Accumulator) Pending() int { return a.wi / a.bps }

func (a *Accumulator) FrameSize() int { return len(a.buf) / a.bps }

// Discard drops an incomplete frame and returns the number of dropped samples.
func (a *Accumulator) Discard() (n int) {
	n = a.Pending()
	a.wi = 0
	return
}

// FrameSamples returns the number of samples in one frame of the given duration,
// i.e. 48000Hz * 20ms = 960.
func FrameSamples(hz int, frame time.Duration) int {
	return int(math.Round(float64(hz) * frame.Seconds()))
}
