package asset

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PreviewPathPrefix is the URL path under which preview handles are served.
const PreviewPathPrefix = "/api/preview/"

// Registry hands out locally addressable preview handles for image bytes,
// the way a browser hands out object URLs. Every handle must be released.
type Registry struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]previewEntry
	released int
}

type previewEntry struct {
	data     []byte
	mimeType string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]previewEntry)}
}

// Handle is a live preview registration.
type Handle struct {
	id   uuid.UUID
	reg  *Registry
	once sync.Once
}

// Create registers data and returns its handle.
func (r *Registry) Create(data []byte, mimeType string) *Handle {
	id := uuid.New()
	r.mu.Lock()
	r.entries[id] = previewEntry{data: data, mimeType: mimeType}
	r.mu.Unlock()
	log.Trace().Str("previewId", id.String()).Msg("Preview handle created")
	return &Handle{id: id, reg: r}
}

// Open returns the bytes behind a live handle id.
func (r *Registry) Open(id string) (data []byte, mimeType string, ok bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[parsed]
	return e.data, e.mimeType, ok
}

// Live returns the number of handles not yet released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Released returns how many handles have been released over the registry's life.
func (r *Registry) Released() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.released
}

// ID returns the handle's identifier.
func (h *Handle) ID() string {
	return h.id.String()
}

// URL returns the path the view uses to fetch the preview.
func (h *Handle) URL() string {
	return PreviewPathPrefix + h.id.String()
}

// Release frees the preview. Subsequent calls are no-ops.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.reg.mu.Lock()
		delete(h.reg.entries, h.id)
		h.reg.released++
		h.reg.mu.Unlock()
		log.Trace().Str("previewId", h.id.String()).Msg("Preview handle released")
	})
}
