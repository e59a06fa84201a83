package lens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/meme-studio/internal/media"
)

type fakeStream struct {
	frames chan media.Frame
	closes atomic.Int32
}

func (s *fakeStream) Frames() <-chan media.Frame { return s.frames }

func (s *fakeStream) Close() error {
	if s.closes.Add(1) == 1 {
		close(s.frames)
	}
	return nil
}

type fakeDevice struct {
	err   error
	gate  chan struct{}
	opens atomic.Int32

	mu      sync.Mutex
	streams []*fakeStream
}

func (d *fakeDevice) Name() string { return "fake0" }

func (d *fakeDevice) Open(ctx context.Context) (media.Stream, error) {
	d.opens.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{frames: make(chan media.Frame)}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevice) totalCloses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		n += int(s.closes.Load())
	}
	return n
}

type fakeProcessor struct {
	mu      sync.Mutex
	source  FrameSource
	playing bool
	applied []string
	closes  int
	out     chan media.Frame
	playErr error

	// hold blocks ApplyLens until closed; entered reports each call.
	hold    chan struct{}
	entered chan string
}

func (p *fakeProcessor) SetSource(src FrameSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = src
	return nil
}

func (p *fakeProcessor) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.playing = true
	return nil
}

func (p *fakeProcessor) ApplyLens(ctx context.Context, id string) error {
	p.mu.Lock()
	hold, entered := p.hold, p.entered
	p.mu.Unlock()
	if entered != nil {
		entered <- id
	}
	if hold != nil {
		<-hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, id)
	return nil
}

func (p *fakeProcessor) Output() <-chan media.Frame { return p.out }

func (p *fakeProcessor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakeProcessor) appliedLenses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

type fakeEngine struct {
	entries    []Entry
	catalogErr error
	proc       *fakeProcessor
	groups     []string
}

func (e *fakeEngine) NewProcessor(ctx context.Context) (Processor, error) {
	return e.proc, nil
}

func (e *fakeEngine) LoadLensGroups(ctx context.Context, groupIDs ...string) ([]Entry, error) {
	e.groups = append(e.groups, groupIDs...)
	if e.catalogErr != nil {
		return nil, e.catalogErr
	}
	return e.entries, nil
}

func testEntries() []Entry {
	return []Entry{{ID: "l1", Name: "First"}, {ID: "l2", Name: "Second"}}
}

func newTestController(dev *fakeDevice, eng *fakeEngine) (*Controller, *int32) {
	var boots int32
	c := NewController(ControllerConfig{
		Device: dev,
		Bootstrap: func(ctx context.Context, token string) (Engine, error) {
			atomic.AddInt32(&boots, 1)
			if token != "token" {
				return nil, errors.New("bad token")
			}
			return eng, nil
		},
		Token: "token",
	})
	return c, &boots
}

func TestStartAppliesFirstLens(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{out: make(chan media.Frame)}
	eng := &fakeEngine{entries: testEntries(), proc: proc}
	c, _ := newTestController(dev, eng)

	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if sess.ActiveLensID != "l1" || c.ActiveLensID() != "l1" {
		t.Errorf("expected first lens active, got %q", sess.ActiveLensID)
	}
	if len(eng.groups) != 1 || eng.groups[0] != DefaultGroupID {
		t.Errorf("expected default group to load, got %v", eng.groups)
	}
	src, ok := proc.source.(*media.Source)
	if !ok || src.Transform() != media.MirrorX {
		t.Errorf("processor should read a mirrored source, got %T", proc.source)
	}
	if !proc.playing {
		t.Error("processor should be playing")
	}
	if c.Output() == nil {
		t.Error("expected live output")
	}
	if len(c.Lenses()) != 2 {
		t.Errorf("expected 2 lenses, got %d", len(c.Lenses()))
	}
}

func TestSwitchLensBeforeStartIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	c, boots := newTestController(dev, &fakeEngine{proc: &fakeProcessor{}})

	if err := c.SwitchLens(context.Background(), "l2"); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if dev.opens.Load() != 0 || atomic.LoadInt32(boots) != 0 {
		t.Error("switch before start must not touch the device or engine")
	}
	if c.ActiveLensID() != "" {
		t.Error("no lens should be active")
	}
}

func TestSwitchLensHotSwaps(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{}
	c, _ := newTestController(dev, &fakeEngine{entries: testEntries(), proc: proc})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if err := c.SwitchLens(context.Background(), "l2"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchLens(context.Background(), "unknown"); err != nil {
		t.Errorf("unknown lens should be ignored, got %v", err)
	}

	if c.ActiveLensID() != "l2" {
		t.Errorf("expected l2 active, got %q", c.ActiveLensID())
	}
	if got := proc.appliedLenses(); len(got) != 2 || got[1] != "l2" {
		t.Errorf("unexpected applied lenses %v", got)
	}
	if dev.opens.Load() != 1 {
		t.Errorf("switching must not reacquire the device, opened %d times", dev.opens.Load())
	}
}

func TestOverlappingSwitchesRecordLastApplied(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{}
	c, _ := newTestController(dev, &fakeEngine{entries: testEntries(), proc: proc})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	hold := make(chan struct{})
	entered := make(chan string, 2)
	proc.mu.Lock()
	proc.hold, proc.entered = hold, entered
	proc.mu.Unlock()

	errs := make(chan error, 2)
	go func() { errs <- c.SwitchLens(context.Background(), "l2") }()
	if got := <-entered; got != "l2" {
		t.Fatalf("expected l2 to apply first, got %s", got)
	}
	go func() { errs <- c.SwitchLens(context.Background(), "l1") }()

	select {
	case id := <-entered:
		t.Fatalf("switch to %s reached the processor while another was applying", id)
	case <-time.After(50 * time.Millisecond):
	}
	close(hold)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}

	applied := proc.appliedLenses()
	if last := applied[len(applied)-1]; c.ActiveLensID() != last {
		t.Errorf("active lens %q does not match last applied %q", c.ActiveLensID(), last)
	}
	if c.ActiveLensID() != "l1" {
		t.Errorf("expected l1 active, got %q", c.ActiveLensID())
	}
}

func TestStopTwiceReleasesOnce(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{}
	c, _ := newTestController(dev, &fakeEngine{entries: testEntries(), proc: proc})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	if n := dev.totalCloses(); n != 1 {
		t.Errorf("expected device released once, got %d", n)
	}
	if proc.closes != 1 {
		t.Errorf("expected processor closed once, got %d", proc.closes)
	}
	if c.Active() || c.Output() != nil {
		t.Error("controller should be idle after stop")
	}
	if _, ok := c.Session(); ok {
		t.Error("no session expected after stop")
	}
}

func TestCatalogFailureStillPlays(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{}
	c, _ := newTestController(dev, &fakeEngine{catalogErr: errors.New("catalog offline"), proc: proc})

	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("catalog failure must not fail start: %v", err)
	}
	defer c.Stop()

	if !proc.playing {
		t.Error("camera preview should still play")
	}
	if len(sess.Lenses) != 0 || sess.ActiveLensID != "" {
		t.Errorf("expected no lenses, got %+v", sess)
	}
	if err := c.SwitchLens(context.Background(), "l1"); err != nil {
		t.Errorf("switch with empty catalog should be a no-op, got %v", err)
	}
}

func TestDeviceErrorsLeaveControllerIdle(t *testing.T) {
	for _, devErr := range []error{media.ErrDeviceAccessDenied, media.ErrDeviceUnavailable} {
		t.Run(devErr.Error(), func(t *testing.T) {
			dev := &fakeDevice{err: &media.DeviceError{Device: "fake0", Op: "open", Err: devErr}}
			c, boots := newTestController(dev, &fakeEngine{proc: &fakeProcessor{}})

			_, err := c.Start(context.Background())
			if !errors.Is(err, devErr) {
				t.Fatalf("expected %v, got %v", devErr, err)
			}
			if c.Active() {
				t.Error("controller should not be active")
			}
			if atomic.LoadInt32(boots) != 0 {
				t.Error("engine should not be bootstrapped without a camera")
			}

			dev.err = nil
			if _, err := c.Start(context.Background()); err != nil {
				t.Errorf("controller should start again after a failure: %v", err)
			}
			_ = c.Stop()
		})
	}
}

func TestPlaybackFailureReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcessor{playErr: errors.New("no output")}
	c, _ := newTestController(dev, &fakeEngine{proc: proc})

	if _, err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if n := dev.totalCloses(); n != 1 {
		t.Errorf("device should be released once, got %d", n)
	}
	if proc.closes != 1 {
		t.Errorf("processor should be closed once, got %d", proc.closes)
	}
}

func TestBootstrapFailureReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(ControllerConfig{
		Device: dev,
		Bootstrap: func(ctx context.Context, token string) (Engine, error) {
			return nil, errors.New("unauthorized")
		},
	})
	if _, err := c.Start(context.Background()); err == nil {
		t.Fatal("expected bootstrap failure")
	}
	if n := dev.totalCloses(); n != 1 {
		t.Errorf("device should be released, got %d closes", n)
	}
}

func TestStartWhileActive(t *testing.T) {
	dev := &fakeDevice{}
	c, _ := newTestController(dev, &fakeEngine{proc: &fakeProcessor{}})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if _, err := c.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
	if dev.opens.Load() != 1 {
		t.Errorf("second start must not open the device, opened %d", dev.opens.Load())
	}
}

func TestStopDuringStart(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{})}
	proc := &fakeProcessor{}
	c, _ := newTestController(dev, &fakeEngine{entries: testEntries(), proc: proc})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background())
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for dev.opens.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("start never reached the device")
		}
		time.Sleep(time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	close(dev.gate)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}
	if n := dev.totalCloses(); n != 1 {
		t.Errorf("device should be released once, got %d", n)
	}
	if c.Active() {
		t.Error("controller should be idle")
	}
}

func TestEntryApplyTo(t *testing.T) {
	proc := &fakeProcessor{}
	if err := (Entry{ID: "x"}).ApplyTo(context.Background(), proc); err != nil {
		t.Fatal(err)
	}
	if got := proc.appliedLenses(); len(got) != 1 || got[0] != "x" {
		t.Errorf("unexpected applied lenses %v", got)
	}
}
