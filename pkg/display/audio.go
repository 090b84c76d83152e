package display

import (
	"fmt"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/encoder/opus"
	"github.com/giongto35/cloud-display/pkg/media"
	"github.com/gordonklaus/portaudio"
)

// Speaker plays the audio queue.
// PortAudio pulls the samples, the missing ones are played as silence.
type Speaker struct {
	q      *media.Queue
	cur    []int16
	stream *portaudio.Stream

	played    atomic.Uint64
	underruns atomic.Uint64
}

func NewSpeaker(q *media.Queue, framesPerBuffer int) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	s := &Speaker{q: q}
	stream, err := portaudio.OpenDefaultStream(0, media.Channels, opus.SampleRate, framesPerBuffer, s.fill)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *Speaker) Start() error { return s.stream.Start() }

// fill runs on the audio thread.
func (s *Speaker) fill(out []int16) {
	for i := 0; i < len(out); {
		if len(s.cur) == 0 {
			p, ok := s.q.TryGet()
			if !ok {
				clear(out[i:])
				s.underruns.Add(1)
				return
			}
			s.cur = p.PCM
			s.played.Add(1)
		}
		n := copy(out[i:], s.cur)
		s.cur = s.cur[n:]
		i += n
	}
}

// Played returns the number of taken audio frames.
func (s *Speaker) Played() uint64 { return s.played.Load() }

func (s *Speaker) Underruns() uint64 { return s.underruns.Load() }

func (s *Speaker) Close() error {
	err := s.stream.Close()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
