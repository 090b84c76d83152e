package opus

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	SampleRate = 48000
	// the biggest Opus frame is 120ms
	maxFrameSamples = SampleRate * 120 / 1000
	maxPacketSize   = 4000
)

type Options struct {
	Bitrate    int
	Complexity int
	FEC        bool
}

type Encoder struct {
	*opus.Encoder

	buf      []byte
	channels int
}

func NewEncoder(channels int, o Options) (*Encoder, error) {
	enc, err := opus.NewEncoder(
		SampleRate,
		channels,
		// be aware that low delay option is not optimized for voice
		opus.AppRestrictedLowdelay,
	)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}

	_ = enc.SetMaxBandwidth(opus.Fullband)
	if o.Bitrate > 0 {
		err = enc.SetBitrate(o.Bitrate)
	} else {
		err = enc.SetBitrateToAuto()
	}
	if err != nil {
		return nil, fmt.Errorf("opus: bitrate %v: %w", o.Bitrate, err)
	}
	if o.Complexity > 0 {
		if err = enc.SetComplexity(o.Complexity); err != nil {
			return nil, fmt.Errorf("opus: complexity %v: %w", o.Complexity, err)
		}
	}
	if o.FEC {
		_ = enc.SetInBandFEC(true)
	}
	return &Encoder{Encoder: enc, buf: make([]byte, maxPacketSize), channels: channels}, nil
}

// Encode compresses one frame of interleaved samples.
// The frame should be one of the Opus frame durations (2.5, 5, 10, 20, 40 or 60 ms).
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.Encoder.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

type Decoder struct {
	dec      *opus.Decoder
	pcm      []int16
	channels int
}

func NewDecoder(channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}
	return &Decoder{dec: dec, pcm: make([]int16, maxFrameSamples*channels), channels: channels}, nil
}

// Decode returns a new slice of interleaved samples.
func (d *Decoder) Decode(data []byte) ([]int16, error) {
	n, err := d.dec.Decode(data, d.pcm)
	if err != nil {
		return nil, err
	}
	return append([]int16(nil), d.pcm[:n*d.channels]...), nil
}
