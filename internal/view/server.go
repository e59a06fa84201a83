// Package view exposes the caption workflow, the lens camera and speech over
// HTTP for a browser UI. It renders nothing itself: state goes out as JSON,
// workflow transitions as a websocket feed and the lens output as MJPEG.
package view

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/asset"
	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/media"
	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/voice"
	"github.com/fpang/meme-studio/internal/workflow"
)

// DefaultMaxUploadBytes bounds an uploaded image.
const DefaultMaxUploadBytes = 20 << 20

// DefaultViewerGrace is how long a started camera stays acquired without
// a stream viewer.
const DefaultViewerGrace = 5 * time.Second

// Camera is the lens session surface the view drives.
type Camera interface {
	Start(ctx context.Context) (lens.Session, error)
	Stop() error
	SwitchLens(ctx context.Context, id string) error
	Session() (lens.Session, bool)
	Output() <-chan media.Frame
}

// Thumbnailer renders a preview no larger than maxDim on either side.
type Thumbnailer func(data []byte, maxDim int) (out []byte, mimeType string, err error)

// Config wires the server to its collaborators. Engine is required; the
// rest are optional and their routes answer 501 when missing.
type Config struct {
	Engine         *workflow.Engine
	Previews       *asset.Registry
	Camera         Camera
	Voices         *voice.Catalog
	Synth          voice.Synthesizer
	Thumbnail      Thumbnailer
	MaxUploadBytes int64
	// ViewerGrace releases the camera once its stream has had no viewer
	// for this long. Zero means DefaultViewerGrace.
	ViewerGrace time.Duration
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	hub    *hub

	camMu  sync.Mutex
	fanout *frameFanout

	pumpDone chan struct{}
}

// New starts the event feed. ctx bounds the camera session and the feed.
func New(ctx context.Context, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.ViewerGrace <= 0 {
		cfg.ViewerGrace = DefaultViewerGrace
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		hub:      newHub(),
		pumpDone: make(chan struct{}),
	}
	go s.hub.run()
	go s.pump()
	return s
}

// pump is the workflow engine's single update consumer.
func (s *Server) pump() {
	defer close(s.pumpDone)
	for snap := range s.cfg.Engine.Updates() {
		s.hub.publish(MsgState, snap)
	}
}

// Close stops the camera session and disconnects the event feed. The
// engine is owned by the caller.
func (s *Server) Close() {
	s.camMu.Lock()
	s.fanout = nil
	s.camMu.Unlock()
	if s.cfg.Camera != nil {
		if err := s.cfg.Camera.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop camera on shutdown")
		}
	}
	s.cancel()
	s.hub.stop()
}

// Handler returns the API routes. JSON routes are gzip-compressed; the
// websocket feed, the MJPEG stream and previews are not.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/state", s.handleState)
	api.HandleFunc("GET /api/filters", s.handleFilters)
	api.HandleFunc("POST /api/image", s.handleImage)
	api.HandleFunc("POST /api/captions", s.handleCaptions)
	api.HandleFunc("POST /api/finalize", s.handleFinalize)
	api.HandleFunc("POST /api/filter", s.handleFilter)
	api.HandleFunc("POST /api/camera/start", s.handleCameraStart)
	api.HandleFunc("POST /api/camera/stop", s.handleCameraStop)
	api.HandleFunc("POST /api/camera/lens", s.handleCameraLens)
	api.HandleFunc("GET /api/camera/lenses", s.handleCameraLenses)
	api.HandleFunc("POST /api/speak", s.handleSpeak)
	api.HandleFunc("GET /api/voices", s.handleVoices)

	mux := http.NewServeMux()
	mux.Handle("/api/", gzhttp.GzipHandler(api))
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/camera/stream", s.handleCameraStream)
	mux.HandleFunc("GET /api/meme", s.handleMeme)
	mux.HandleFunc("GET "+asset.PreviewPathPrefix+"{id}", s.handlePreview)

	return withLogging(withCORS(mux))
}

// --- workflow ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.Engine.Snapshot())
}

type filterOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	filters := meme.Filters()
	out := make([]filterOption, 0, len(filters))
	for _, f := range filters {
		out = append(out, filterOption{Value: f.WireValue(), Label: f.Label()})
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /api/image (multipart field "image")
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			httpError(w, http.StatusBadRequest, workflow.MsgNoImage)
			return
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		httpError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if err := s.cfg.Engine.SelectImage(header.Filename, data); err != nil {
		s.workflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.cfg.Engine.Snapshot())
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Engine.RequestCaptions(); err != nil {
		s.workflowError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.cfg.Engine.Snapshot())
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caption string `json:"caption"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.Engine.Finalize(req.Caption); err != nil {
		s.workflowError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.cfg.Engine.Snapshot())
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.Engine.SetFilter(req.Filter); err != nil {
		s.workflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.cfg.Engine.Snapshot())
}

func (s *Server) workflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, meme.ErrNoImageSelected), errors.Is(err, meme.ErrInvalidFilter):
		httpError(w, http.StatusBadRequest, workflow.UserMessage(err))
	case errors.Is(err, workflow.ErrClosed):
		httpError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		log.Error().Err(err).Msg("Workflow operation failed")
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

// GET /api/meme downloads the finalized JPEG.
func (s *Server) handleMeme(w http.ResponseWriter, r *http.Request) {
	img, ok := s.cfg.Engine.Meme()
	if !ok {
		httpError(w, http.StatusNotFound, "no meme yet")
		return
	}
	data, err := img.Bytes()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "invalid meme payload")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="meme.jpg"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// GET /api/preview/{id}[?size=N]
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Previews == nil {
		httpError(w, http.StatusNotFound, "preview not found")
		return
	}
	data, mimeType, ok := s.cfg.Previews.Open(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "preview not found")
		return
	}

	if sizeStr := r.URL.Query().Get("size"); sizeStr != "" && s.cfg.Thumbnail != nil {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size <= 0 {
			httpError(w, http.StatusBadRequest, "invalid size")
			return
		}
		thumb, thumbMIME, err := s.cfg.Thumbnail(data, size)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to generate preview thumbnail")
		} else {
			data, mimeType = thumb, thumbMIME
		}
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Write(data)
}

// GET /api/events (websocket)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	first, err := encodeMessage(MsgState, s.cfg.Engine.Snapshot())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.hub.serve(w, r, first)
}

// --- camera ---

type cameraState struct {
	Active  bool          `json:"active"`
	Session *lens.Session `json:"session,omitempty"`
}

func (s *Server) cameraState() cameraState {
	sess, ok := s.cfg.Camera.Session()
	if !ok {
		return cameraState{}
	}
	return cameraState{Active: true, Session: &sess}
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		httpError(w, http.StatusNotImplemented, "camera not configured")
		return
	}
	if _, err := s.cfg.Camera.Start(s.ctx); err != nil {
		status, msg := cameraError(err)
		httpError(w, status, msg)
		return
	}

	if out := s.cfg.Camera.Output(); out != nil {
		s.camMu.Lock()
		s.fanout = newFrameFanout(out, s.cfg.ViewerGrace, s.releaseUnwatchedCamera)
		s.camMu.Unlock()
	}

	state := s.cameraState()
	s.hub.publish(MsgCamera, state)
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		httpError(w, http.StatusNotImplemented, "camera not configured")
		return
	}
	s.camMu.Lock()
	s.fanout = nil
	s.camMu.Unlock()
	if err := s.cfg.Camera.Stop(); err != nil {
		log.Warn().Err(err).Msg("Camera stop reported an error")
	}
	state := s.cameraState()
	s.hub.publish(MsgCamera, state)
	respondJSON(w, http.StatusOK, state)
}

// releaseUnwatchedCamera stops the session behind f once nobody watches
// it. A fanout replaced by a later start is ignored.
func (s *Server) releaseUnwatchedCamera(f *frameFanout) {
	s.camMu.Lock()
	if s.fanout != f {
		s.camMu.Unlock()
		return
	}
	s.fanout = nil
	s.camMu.Unlock()

	log.Info().Dur("grace", s.cfg.ViewerGrace).Msg("No camera viewers left, releasing camera")
	if err := s.cfg.Camera.Stop(); err != nil {
		log.Warn().Err(err).Msg("Camera stop reported an error")
	}
	s.hub.publish(MsgCamera, s.cameraState())
}

func (s *Server) handleCameraLens(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		httpError(w, http.StatusNotImplemented, "camera not configured")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.Camera.SwitchLens(r.Context(), req.ID); err != nil {
		log.Error().Err(err).Str("lens", req.ID).Msg("Lens switch failed")
		httpError(w, http.StatusBadGateway, "failed to apply lens")
		return
	}
	state := s.cameraState()
	s.hub.publish(MsgCamera, state)
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleCameraLenses(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		httpError(w, http.StatusNotImplemented, "camera not configured")
		return
	}
	sess, _ := s.cfg.Camera.Session()
	lenses := sess.Lenses
	if lenses == nil {
		lenses = []lens.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"lenses":       lenses,
		"activeLensId": sess.ActiveLensID,
	})
}

func (s *Server) handleCameraStream(w http.ResponseWriter, r *http.Request) {
	s.camMu.Lock()
	fanout := s.fanout
	s.camMu.Unlock()
	if s.cfg.Camera == nil || fanout == nil {
		httpError(w, http.StatusConflict, "camera not started")
		return
	}
	frames, cancel := fanout.subscribe()
	defer cancel()
	serveMJPEG(w, r, frames)
}

func cameraError(err error) (int, string) {
	switch {
	case errors.Is(err, media.ErrDeviceAccessDenied):
		return http.StatusForbidden, "Camera access was denied."
	case errors.Is(err, media.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "No camera is available."
	case errors.Is(err, lens.ErrSessionActive):
		return http.StatusConflict, "The camera is already running."
	case errors.Is(err, lens.ErrStopped):
		return http.StatusConflict, "The camera was stopped while starting."
	default:
		log.Error().Err(err).Msg("Camera start failed")
		return http.StatusInternalServerError, "Failed to start the camera."
	}
}

// --- speech ---

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Voices == nil {
		httpError(w, http.StatusNotImplemented, voice.UnsupportedNotice)
		return
	}
	if _, err := s.cfg.Voices.Refresh(r.Context()); err != nil {
		if errors.Is(err, voice.ErrSpeechUnsupported) {
			httpError(w, http.StatusNotImplemented, voice.UnsupportedNotice)
			return
		}
		log.Warn().Err(err).Msg("Failed to refresh voices")
	}
	voices := s.cfg.Voices.Voices()
	if voices == nil {
		voices = []voice.Voice{}
	}
	respondJSON(w, http.StatusOK, voices)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Voice    string `json:"voice"`
		Language string `json:"language"`
		Funny    bool   `json:"funny"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	v := s.pickVoice(req.Voice, req.Language)
	utterance := voice.NewRequest(req.Text, v, req.Funny, nil)
	if err := voice.Speak(s.ctx, s.cfg.Synth, utterance); err != nil {
		if errors.Is(err, voice.ErrSpeechUnsupported) {
			httpError(w, http.StatusNotImplemented, voice.UnsupportedNotice)
			return
		}
		httpError(w, http.StatusInternalServerError, "speech failed")
		return
	}
	respondJSON(w, http.StatusAccepted, utterance)
}

func (s *Server) pickVoice(name, language string) voice.Voice {
	if s.cfg.Voices == nil {
		return voice.Voice{Name: name, Language: language}
	}
	if name != "" {
		if v, ok := s.cfg.Voices.Lookup(name); ok {
			return v
		}
	}
	if language != "" {
		if v, ok := s.cfg.Voices.Match(language); ok {
			return v
		}
	}
	if v, ok := s.cfg.Voices.Default(); ok {
		return v
	}
	return voice.Voice{}
}
