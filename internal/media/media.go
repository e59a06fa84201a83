// Package media adapts camera capture into a stream of RGBA frames. A Device
// is opened into a Stream; the lens controller wraps the stream in a Source
// that applies a fixed transform (the front camera is mirrored) before the
// frames reach the lens engine.
package media

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDeviceAccessDenied is returned when the user or the OS refuses
	// access to the camera.
	ErrDeviceAccessDenied = errors.New("camera access denied")
	// ErrDeviceUnavailable is returned when no usable camera exists or it
	// is held by another process.
	ErrDeviceUnavailable = errors.New("camera unavailable")
)

// DeviceError describes a failed device operation.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return "media: " + e.Op + " " + e.Device + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Frame is one captured video frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	// TraceID correlates a frame across capture, lens and output logs.
	TraceID uuid.UUID
	Image   *image.RGBA
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Device is a source of video that can be acquired.
type Device interface {
	// Name identifies the device in logs, e.g. /dev/video0.
	Name() string
	// Open acquires the device. Failures match ErrDeviceAccessDenied or
	// ErrDeviceUnavailable.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired device. Frames is closed when capture ends, either
// because Close was called or because the device went away.
type Stream interface {
	Frames() <-chan Frame
	Close() error
}

// Release wraps s so that the underlying Close runs exactly once no matter
// how many times, or from how many goroutines, Close is called.
func Release(s Stream) Stream {
	if r, ok := s.(*releaseOnce); ok {
		return r
	}
	return &releaseOnce{Stream: s}
}

type releaseOnce struct {
	Stream
	once sync.Once
	err  error
}

func (r *releaseOnce) Close() error {
	r.once.Do(func() {
		r.err = r.Stream.Close()
		log.Debug().Msg("Media stream released")
	})
	return r.err
}
