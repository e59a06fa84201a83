// Package v4l2 captures from Linux video devices (/dev/videoN) through a
// GStreamer pipeline:
//
//	v4l2src device=... ! videoconvert ! videoscale ! video/x-raw,format=RGBA,... ! appsink
//
// Opening a device probes it first so permission problems surface as
// media.ErrDeviceAccessDenied, takes an exclusive lock file, and starts a
// udev watcher that ends the stream when the camera is unplugged.
package v4l2

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/fpang/meme-studio/internal/media"
)

// DefaultDevice is the first video device.
const DefaultDevice = "/dev/video0"

const startTimeout = 5 * time.Second

var gstInit sync.Once

// Device is a V4L2 camera.
type Device struct {
	Path   string
	Width  int
	Height int
	FPS    int
	// LockDir holds the per-device lock file. Empty means os.TempDir().
	LockDir string
}

// New returns a 640x480 at 30 fps device for path.
func New(path string) *Device {
	if path == "" {
		path = DefaultDevice
	}
	return &Device{Path: path, Width: 640, Height: 480, FPS: 30}
}

// Name implements media.Device.
func (d *Device) Name() string {
	return d.Path
}

// Open implements media.Device.
func (d *Device) Open(ctx context.Context) (media.Stream, error) {
	if err := probe(d.Path); err != nil {
		return nil, err
	}
	lock, err := acquireLock(d.LockDir, d.Path)
	if err != nil {
		return nil, err
	}

	s, err := d.start(ctx, lock)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (d *Device) start(ctx context.Context, lock *flock.Flock) (*stream, error) {
	gstInit.Do(func() { gst.Init(nil) })

	pipeline, sink, err := d.buildPipeline()
	if err != nil {
		return nil, &media.DeviceError{Device: d.Path, Op: "pipeline", Err: fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)}
	}

	s := &stream{
		device:   d.Path,
		width:    d.Width,
		height:   d.Height,
		pipeline: pipeline,
		lock:     lock,
		frames:   make(chan media.Frame, 1),
		stop:     make(chan struct{}),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, &media.DeviceError{Device: d.Path, Op: "play", Err: fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)}
	}
	if err := s.waitPlaying(ctx); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, &media.DeviceError{Device: d.Path, Op: "play", Err: err}
	}

	s.watcher = newRemovalWatcher(d.Path, s.shutdown)
	s.watcher.Start()

	s.wg.Add(1)
	go s.monitorBus()

	log.Info().
		Str("device", d.Path).
		Int("width", d.Width).
		Int("height", d.Height).
		Int("fps", d.FPS).
		Msg("Camera capture started")
	return s, nil
}

func (d *Device) buildPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", d.Path)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(d.caps()))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}
	return pipeline, sink, nil
}

func (d *Device) caps() string {
	fps := d.FPS
	if fps <= 0 {
		fps = 30
	}
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", d.Width, d.Height, fps)
}

// stream is a running capture pipeline.
type stream struct {
	device   string
	width    int
	height   int
	pipeline *gst.Pipeline
	lock     *flock.Flock
	watcher  *removalWatcher

	mu     sync.Mutex
	frames chan media.Frame
	ended  bool

	seq      atomic.Uint64
	dropped  atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *stream) Frames() <-chan media.Frame {
	return s.frames
}

// Close stops capture and releases the device and its lock.
func (s *stream) Close() error {
	s.shutdown()
	s.wg.Wait()
	return nil
}

// shutdown ends capture. It runs once, from Close, the bus monitor or the
// removal watcher.
func (s *stream) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			log.Warn().Err(err).Str("device", s.device).Msg("Failed to stop capture pipeline")
		}
		if s.watcher != nil {
			s.watcher.Stop()
		}

		s.mu.Lock()
		s.ended = true
		close(s.frames)
		s.mu.Unlock()

		if err := s.lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("device", s.device).Msg("Failed to release camera lock")
		}
		log.Info().
			Str("device", s.device).
			Uint64("frames", s.seq.Load()).
			Uint64("dropped", s.dropped.Load()).
			Msg("Camera capture stopped")
	})
}

func (s *stream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	want := s.width * s.height * 4
	if len(data) < want {
		buffer.Unmap()
		log.Debug().Int("size", len(data)).Int("expected", want).Msg("Skipping short camera buffer")
		return gst.FlowOK
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	copy(img.Pix, data[:want])
	buffer.Unmap()

	frame := media.Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		TraceID:   uuid.New(),
		Image:     img,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return gst.FlowEOS
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
	return gst.FlowOK
}

// waitPlaying blocks until the pipeline reports PLAYING, reports an error,
// or startTimeout elapses.
func (s *stream) waitPlaying(ctx context.Context) error {
	bus := s.pipeline.GetPipelineBus()
	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Error().Str("device", s.device).Str("error", gerr.Error()).Str("debug", gerr.DebugString()).Msg("Camera pipeline failed to start")
			return fmt.Errorf("%w: %s", classifyPipelineError(gerr.Error()+" "+gerr.DebugString()), gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				if _, state := msg.ParseStateChanged(); state == gst.StatePlaying {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("%w: pipeline did not start within %s", media.ErrDeviceUnavailable, startTimeout)
}

// monitorBus ends the stream on EOS or a pipeline error.
func (s *stream) monitorBus() {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			log.Info().Str("device", s.device).Msg("Camera stream ended")
			s.shutdown()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Error().Str("device", s.device).Str("error", gerr.Error()).Str("debug", gerr.DebugString()).Msg("Camera pipeline error")
			s.shutdown()
			return
		}
	}
}
