package view

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/media"
)

const mjpegBoundary = "memestudioframe"

// frameFanout copies the single lens output stream to any number of
// viewers. Each viewer keeps only the newest frame. When no viewer has been
// attached for grace, onIdle runs once per idle period.
type frameFanout struct {
	grace  time.Duration
	onIdle func(*frameFanout)

	mu      sync.Mutex
	subs    map[chan media.Frame]struct{}
	closed  bool
	done    chan struct{}
	idle    *time.Timer
	idleGen uint64
}

func newFrameFanout(in <-chan media.Frame, grace time.Duration, onIdle func(*frameFanout)) *frameFanout {
	f := &frameFanout{
		grace:  grace,
		onIdle: onIdle,
		subs:   make(map[chan media.Frame]struct{}),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.armIdleLocked()
	f.mu.Unlock()
	go f.run(in)
	return f
}

func (f *frameFanout) run(in <-chan media.Frame) {
	defer f.close()
	for frame := range in {
		f.mu.Lock()
		for ch := range f.subs {
			select {
			case ch <- frame:
			default:
				// Replace the stale frame with the new one.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- frame:
				default:
				}
			}
		}
		f.mu.Unlock()
	}
}

func (f *frameFanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.disarmIdleLocked()
	for ch := range f.subs {
		close(ch)
		delete(f.subs, ch)
	}
	close(f.done)
}

func (f *frameFanout) armIdleLocked() {
	f.disarmIdleLocked()
	if f.onIdle == nil || f.closed {
		return
	}
	gen := f.idleGen
	f.idle = time.AfterFunc(f.grace, func() { f.fireIdle(gen) })
}

// disarmIdleLocked also invalidates a timer that already fired and is
// waiting for the lock.
func (f *frameFanout) disarmIdleLocked() {
	f.idleGen++
	if f.idle != nil {
		f.idle.Stop()
		f.idle = nil
	}
}

func (f *frameFanout) fireIdle(gen uint64) {
	f.mu.Lock()
	if gen != f.idleGen || f.closed || len(f.subs) > 0 {
		f.mu.Unlock()
		return
	}
	f.idle = nil
	f.mu.Unlock()
	f.onIdle(f)
}

// viewers returns the number of attached subscribers.
func (f *frameFanout) viewers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// subscribe returns a channel of frames closed when the stream ends, and a
// cancel func.
func (f *frameFanout) subscribe() (<-chan media.Frame, func()) {
	ch := make(chan media.Frame, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.disarmIdleLocked()
	f.subs[ch] = struct{}{}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
			if len(f.subs) == 0 {
				f.armIdleLocked()
			}
		}
	}
}

// serveMJPEG writes frames as multipart/x-mixed-replace until the stream
// ends or the client goes away.
func serveMJPEG(w http.ResponseWriter, r *http.Request, frames <-chan media.Frame) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var buf bytes.Buffer
	sent := 0
	for {
		select {
		case <-r.Context().Done():
			log.Debug().Int("frames", sent).Msg("Camera stream viewer left")
			return
		case frame, ok := <-frames:
			if !ok {
				log.Debug().Int("frames", sent).Msg("Camera stream ended")
				return
			}
			if frame.Image == nil {
				continue
			}
			buf.Reset()
			if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 75}); err != nil {
				log.Warn().Err(err).Uint64("seq", frame.Seq).Msg("Failed to encode camera frame")
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, buf.Len()); err != nil {
				return
			}
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
			sent++
		}
	}
}
