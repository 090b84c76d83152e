package media

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// SampleFormat is a raw interleaved stereo PCM format of the input stream.
type SampleFormat uint8

const (
	PCMS16LE SampleFormat = iota + 1
	PCMF32LE
)

const Channels = 2

func ParseSampleFormat(name string) (SampleFormat, error) {
	switch strings.ToUpper(name) {
	case "PCMS16LE":
		return PCMS16LE, nil
	case "PCMF32LE":
		return PCMF32LE, nil
	}
	return 0, fmt.Errorf("unsupported audio format %q", name)
}

// BytesPerSample returns the size of one stereo sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case PCMS16LE:
		return 2 * Channels
	case PCMF32LE:
		return 4 * Channels
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case PCMS16LE:
		return "PCMS16LE"
	case PCMF32LE:
		return "PCMF32LE"
	}
	return fmt.Sprintf("SampleFormat(%d)", uint8(f))
}

// ToS16 converts raw samples of the format into signed 16-bit values,
// reusing dst when it's big enough.
func (f SampleFormat) ToS16(dst []int16, src []byte) []int16 {
	var n int
	switch f {
	case PCMS16LE:
		n = len(src) / 2
	case PCMF32LE:
		n = len(src) / 4
	}
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	switch f {
	case PCMS16LE:
		for i := range dst {
			dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case PCMF32LE:
		for i := range dst {
			v := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
			dst[i] = f32ToS16(v)
		}
	}
	return dst
}

func f32ToS16(v float32) int16 {
	switch {
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return -math.MaxInt16
	case v != v:
		return 0
	}
	return int16(v * math.MaxInt16)
}

// Stretch does a simple nearest-neighbour stretching of interleaved stereo samples
// into exactly size values, i.e. [1,2,3,4] -> [1,2,1,2,3,4,3,4].
// It's used when the source rate differs from the codec rate.
func Stretch(dst, pcm []int16, size int) []int16 {
	if cap(dst) < size {
		dst = make([]int16, size)
	}
	dst = dst[:size]
	src, out := len(pcm)/Channels, size/Channels
	if src == 0 {
		clear(dst)
		return dst
	}
	for i := 0; i < out; i++ {
		j := i * src / out
		dst[i*Channels], dst[i*Channels+1] = pcm[j*Channels], pcm[j*Channels+1]
	}
	return dst
}
