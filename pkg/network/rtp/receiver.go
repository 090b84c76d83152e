package rtp

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/logger"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
)

// how many packets a late video packet may be behind
const maxLate = 256

// the picture sizes kept for the access units in the sample builder
const maxSizes = 64

type size struct{ w, h int }

// Receiver reads RTP packets and rebuilds the media units.
// Broken or unknown packets are skipped, the transport is lossy.
type Receiver struct {
	r     io.Reader
	video *samplebuilder.SampleBuilder
	opus  codecs.OpusPacket
	sizes map[uint32]size
	ready []media.Packet
	log   *logger.Logger

	skipped atomic.Uint64
	lost    atomic.Uint64
}

func NewReceiver(r io.Reader, log *logger.Logger) *Receiver {
	return &Receiver{
		r:     r,
		video: samplebuilder.New(maxLate, &codecs.H264Packet{}, VideoClockRate),
		sizes: make(map[uint32]size),
		log:   log,
	}
}

// Next blocks until the next media unit.
// Only transport read errors are returned.
func (r *Receiver) Next() (media.Packet, error) {
	for len(r.ready) == 0 {
		// the sample builder keeps the packets, so no buffer reuse
		buf := make([]byte, MTU+512)
		n, err := r.r.Read(buf)
		if err != nil {
			return media.Packet{}, fmt.Errorf("rtp receive: %w", err)
		}
		r.push(buf[:n])
	}
	p := r.ready[0]
	r.ready[0] = media.Packet{}
	r.ready = r.ready[1:]
	return p, nil
}

func (r *Receiver) push(data []byte) {
	var p rtp.Packet
	if err := p.Unmarshal(data); err != nil {
		r.skip(err)
		return
	}
	switch p.PayloadType {
	case AudioPayloadType:
		frame, err := r.opus.Unmarshal(p.Payload)
		if err != nil {
			r.skip(err)
			return
		}
		r.ready = append(r.ready, media.Packet{Kind: media.KindAudio, Timestamp: p.Timestamp, Data: frame})
	case VideoPayloadType:
		if ext := p.GetExtension(sizeExtensionID); len(ext) >= 4 {
			if len(r.sizes) >= maxSizes {
				clear(r.sizes)
			}
			r.sizes[p.Timestamp] = size{
				w: int(binary.BigEndian.Uint16(ext)),
				h: int(binary.BigEndian.Uint16(ext[2:])),
			}
		}
		r.video.Push(&p)
		for s := r.video.Pop(); s != nil; s = r.video.Pop() {
			if s.PrevDroppedPackets > 0 {
				r.lost.Add(uint64(s.PrevDroppedPackets))
				r.log.Debug().Msgf("Lost %v video packets", s.PrevDroppedPackets)
			}
			sz := r.sizes[s.PacketTimestamp]
			delete(r.sizes, s.PacketTimestamp)
			r.ready = append(r.ready, media.Packet{
				Kind:      media.KindVideo,
				Timestamp: s.PacketTimestamp,
				Data:      s.Data,
				Width:     sz.w,
				Height:    sz.h,
			})
		}
	default:
		r.skip(fmt.Errorf("unknown payload type %v", p.PayloadType))
	}
}

func (r *Receiver) skip(err error) {
	r.skipped.Add(1)
	r.log.Debug().Err(err).Msg("Skipped RTP packet")
}

// Skipped returns the number of packets that couldn't be read.
func (r *Receiver) Skipped() uint64 { return r.skipped.Load() }

// Lost returns the number of video packets the sample builder gave up on.
func (r *Receiver) Lost() uint64 { return r.lost.Load() }
