// Package rtp carries the compressed media over a packet transport.
//
// Video is H.264 with payload type 96 and a 90 kHz clock, every packet
// of an access unit has the one-byte header extension 1 with the picture
// size (uint16 width, uint16 height, big-endian). Audio is stereo Opus
// with payload type 111 and a 48 kHz clock.
package rtp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	MTU = 1200

	VideoPayloadType = 96
	AudioPayloadType = 111
	VideoClockRate   = 90000
	AudioClockRate   = 48000

	sizeExtensionID = 1
)

// Sender packetizes media units and writes each packet with a single Write.
// A failed write drops the rest of the unit.
type Sender struct {
	mu    sync.Mutex
	w     io.Writer
	video rtp.Packetizer
	audio rtp.Packetizer

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewSender(w io.Writer) *Sender {
	return &Sender{
		w:     w,
		video: rtp.NewPacketizer(MTU, VideoPayloadType, rand.Uint32(), &codecs.H264Payloader{}, rtp.NewRandomSequencer(), VideoClockRate),
		audio: rtp.NewPacketizer(MTU, AudioPayloadType, rand.Uint32(), &codecs.OpusPayloader{}, rtp.NewRandomSequencer(), AudioClockRate),
	}
}

// WriteVideo sends one H.264 access unit of the given picture size.
func (s *Sender) WriteVideo(au []byte, timestamp uint32, width, height int) error {
	ext := make([]byte, 4)
	binary.BigEndian.PutUint16(ext, uint16(width))
	binary.BigEndian.PutUint16(ext[2:], uint16(height))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.video.Packetize(au, 0) {
		p.Timestamp = timestamp
		if err := p.Header.SetExtension(sizeExtensionID, ext); err != nil {
			return err
		}
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteAudio sends one Opus frame.
func (s *Sender) WriteAudio(frame []byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.audio.Packetize(frame, 0) {
		p.Timestamp = timestamp
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) write(p *rtp.Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	n, err := s.w.Write(data)
	if err != nil {
		return fmt.Errorf("rtp send: %w", err)
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	return nil
}

func (s *Sender) Packets() uint64 { return s.packets.Load() }

func (s *Sender) Bytes() uint64 { return s.bytes.Load() }
