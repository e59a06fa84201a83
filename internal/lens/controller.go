package lens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/media"
	"github.com/fpang/meme-studio/internal/metrics"
)

// DefaultGroupID is the catalog group loaded when none is configured.
const DefaultGroupID = "b202a5b5-482b-44ca-be26-220add4bd631"

// ControllerConfig is the controller's injected configuration. It is read
// once by NewController and never changes afterwards.
type ControllerConfig struct {
	Device    media.Device
	Bootstrap Bootstrap
	// Token authorizes the lens engine.
	Token string
	// GroupID is the catalog group loaded on start. Empty means DefaultGroupID.
	GroupID string
}

// Session describes a running lens session.
type Session struct {
	ID           string    `json:"id"`
	Device       string    `json:"device"`
	StartedAt    time.Time `json:"startedAt"`
	Lenses       []Entry   `json:"lenses"`
	ActiveLensID string    `json:"activeLensId"`
}

type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseActive
)

// Controller owns at most one lens session and the camera it holds.
type Controller struct {
	cfg ControllerConfig

	// switchMu orders lens switches so the recorded lens is the last applied.
	switchMu sync.Mutex

	mu            sync.Mutex
	phase         phase
	stopRequested bool
	session       *Session
	source        *media.Source
	processor     Processor
}

// NewController returns an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID
	}
	return &Controller{cfg: cfg}
}

// Start acquires the camera and starts a session. Device failures match
// media.ErrDeviceAccessDenied or media.ErrDeviceUnavailable; on any failure
// nothing stays acquired and the controller can be started again. A failed
// catalog load is logged and the session plays without lenses. When the
// catalog is not empty its first entry becomes the active lens.
func (c *Controller) Start(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	c.phase = phaseStarting
	c.stopRequested = false
	c.mu.Unlock()

	start := time.Now()
	result := "success"
	defer func() {
		metrics.New(metrics.Namespace).
			Dimension("Operation", "LensSessionStart").
			Dimension("Result", result).
			Duration("LatencyMs", time.Since(start)).
			Count("RequestCount").
			Flush()
	}()

	sess, src, proc, err := c.open(ctx)
	if err != nil {
		result = "error"
		c.mu.Lock()
		c.phase = phaseIdle
		c.stopRequested = false
		c.mu.Unlock()
		log.Error().Err(err).Str("device", c.deviceName()).Msg("Failed to start lens session")
		return Session{}, err
	}

	c.mu.Lock()
	if c.stopRequested {
		c.phase = phaseIdle
		c.stopRequested = false
		c.mu.Unlock()
		result = "stopped"
		teardown(src, proc)
		log.Info().Str("session", sess.ID).Msg("Lens session stopped while starting")
		return Session{}, ErrStopped
	}
	c.phase = phaseActive
	c.session = sess
	c.source = src
	c.processor = proc
	snapshot := *sess
	c.mu.Unlock()

	log.Info().
		Str("session", sess.ID).
		Str("device", sess.Device).
		Int("lenses", len(sess.Lenses)).
		Str("active_lens", sess.ActiveLensID).
		Dur("duration", time.Since(start)).
		Msg("Lens session started")
	return snapshot, nil
}

// open runs the blocking start steps without holding the lock.
func (c *Controller) open(ctx context.Context) (*Session, *media.Source, Processor, error) {
	if c.cfg.Device == nil {
		return nil, nil, nil, fmt.Errorf("%w: no camera configured", media.ErrDeviceUnavailable)
	}
	if c.cfg.Bootstrap == nil {
		return nil, nil, nil, errors.New("lens: no engine configured")
	}

	stream, err := c.cfg.Device.Open(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	src := media.NewSource(stream, media.MirrorX)

	engine, err := c.cfg.Bootstrap(ctx, c.cfg.Token)
	if err != nil {
		_ = src.Close()
		return nil, nil, nil, fmt.Errorf("failed to bootstrap lens engine: %w", err)
	}
	proc, err := engine.NewProcessor(ctx)
	if err != nil {
		_ = src.Close()
		return nil, nil, nil, fmt.Errorf("failed to create lens processor: %w", err)
	}
	if err := proc.SetSource(src); err != nil {
		teardown(src, proc)
		return nil, nil, nil, fmt.Errorf("failed to bind camera to lens processor: %w", err)
	}
	if err := proc.Play(ctx); err != nil {
		teardown(src, proc)
		return nil, nil, nil, fmt.Errorf("failed to start lens playback: %w", err)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Device:    c.cfg.Device.Name(),
		StartedAt: time.Now(),
	}

	entries, err := engine.LoadLensGroups(ctx, c.cfg.GroupID)
	if err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %v", ErrCatalogLoad, err)).
			Str("group", c.cfg.GroupID).
			Msg("Lens catalog unavailable; camera preview continues without lenses")
		entries = nil
	}
	sess.Lenses = entries

	if len(entries) > 0 {
		if err := entries[0].ApplyTo(ctx, proc); err != nil {
			log.Warn().Err(err).Str("lens", entries[0].ID).Msg("Failed to apply default lens")
		} else {
			sess.ActiveLensID = entries[0].ID
		}
	}
	return sess, src, proc, nil
}

// SwitchLens makes id the active lens on the running session. It does
// nothing when no session is active or id is not in the catalog.
func (c *Controller) SwitchLens(ctx context.Context, id string) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.phase != phaseActive {
		c.mu.Unlock()
		log.Debug().Str("lens", id).Msg("Lens switch ignored, no active session")
		return nil
	}
	entry, ok := findEntry(c.session.Lenses, id)
	if !ok {
		c.mu.Unlock()
		log.Debug().Str("lens", id).Msg("Lens switch ignored, unknown lens")
		return nil
	}
	sess := c.session
	proc := c.processor
	c.mu.Unlock()

	if err := entry.ApplyTo(ctx, proc); err != nil {
		return fmt.Errorf("failed to apply lens %s: %w", id, err)
	}

	c.mu.Lock()
	if c.session == sess {
		sess.ActiveLensID = id
	}
	c.mu.Unlock()
	log.Info().Str("session", sess.ID).Str("lens", id).Str("name", entry.Name).Msg("Lens switched")
	return nil
}

// Stop releases the camera and the processor. Calls without an active
// session do nothing. A Stop during Start makes Start release everything
// and return ErrStopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.phase {
	case phaseStarting:
		c.stopRequested = true
		c.mu.Unlock()
		return nil
	case phaseIdle:
		c.mu.Unlock()
		return nil
	}
	sess, src, proc := c.session, c.source, c.processor
	c.phase = phaseIdle
	c.session, c.source, c.processor = nil, nil, nil
	c.mu.Unlock()

	err := teardown(src, proc)
	log.Info().Str("session", sess.ID).Dur("uptime", time.Since(sess.StartedAt)).Msg("Lens session stopped")
	return err
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseActive
}

// Session returns a copy of the running session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Lenses returns the catalog of the running session.
func (c *Controller) Lenses() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return append([]Entry(nil), c.session.Lenses...)
}

// ActiveLensID returns the active lens, or "" when none is applied.
func (c *Controller) ActiveLensID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ActiveLensID
}

// Output returns the rendered stream of the running session, or nil.
func (c *Controller) Output() <-chan media.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processor == nil {
		return nil
	}
	return c.processor.Output()
}

func (c *Controller) deviceName() string {
	if c.cfg.Device == nil {
		return ""
	}
	return c.cfg.Device.Name()
}

// teardown closes the processor first so it stops reading, then releases
// the camera.
func teardown(src *media.Source, proc Processor) error {
	var errs []error
	if proc != nil {
		if err := proc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close processor: %w", err))
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release camera: %w", err))
		}
	}
	return errors.Join(errs...)
}
