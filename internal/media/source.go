package media

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Source applies a Transform to every frame of a stream. It owns the stream:
// closing the Source releases it.
type Source struct {
	stream    Stream
	transform atomic.Int32
	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSource starts forwarding frames from s through t.
func NewSource(s Stream, t Transform) *Source {
	src := &Source{
		stream: Release(s),
		out:    make(chan Frame, 1),
		done:   make(chan struct{}),
	}
	src.transform.Store(int32(t))
	src.wg.Add(1)
	go src.run()
	return src
}

// Frames delivers transformed frames. It is closed when the underlying
// stream ends or the Source is closed.
func (s *Source) Frames() <-chan Frame {
	return s.out
}

// Transform returns the transform currently applied.
func (s *Source) Transform() Transform {
	return Transform(s.transform.Load())
}

// SetTransform changes the transform for subsequent frames.
func (s *Source) SetTransform(t Transform) {
	s.transform.Store(int32(t))
}

// Close releases the stream and waits for forwarding to stop.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Close()
	})
	s.wg.Wait()
	return err
}

func (s *Source) run() {
	defer s.wg.Done()
	defer close(s.out)
	in := s.stream.Frames()
	for {
		select {
		case <-s.done:
			return
		case f, ok := <-in:
			if !ok {
				log.Info().Msg("Media stream ended")
				return
			}
			f.Image = s.Transform().Apply(f.Image)
			select {
			case s.out <- f:
			case <-s.done:
				return
			}
		}
	}
}
