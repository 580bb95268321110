package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/example/kinsync/internal/presence/domain"
)

// Hub is the in-process pub/sub for the two engine event classes:
// location samples and sharing-state changes. Fan-out is synchronous, in
// registration order, at-most-once; nothing is buffered for late
// subscribers.
type Hub struct {
	logger *zap.Logger

	mu       sync.Mutex
	nextID   int64
	location []locationEntry
	sharing  []sharingEntry
}

type locationEntry struct {
	id int64
	fn func(domain.LocationSample)
}

type sharingEntry struct {
	id int64
	fn func(bool)
}

// New constructs an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger}
}

// OnLocation registers fn for location samples. The returned func removes
// exactly this registration; registering the same callback twice yields
// two independently removable registrations.
func (h *Hub) OnLocation(fn func(domain.LocationSample)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.location = append(h.location, locationEntry{id: id, fn: fn})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.location {
			if entry.id == id {
				h.location = append(h.location[:i], h.location[i+1:]...)
				return
			}
		}
	}
}

// OnSharingState registers fn for sharing-state changes.
func (h *Hub) OnSharingState(fn func(bool)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.sharing = append(h.sharing, sharingEntry{id: id, fn: fn})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.sharing {
			if entry.id == id {
				h.sharing = append(h.sharing[:i], h.sharing[i+1:]...)
				return
			}
		}
	}
}

// EmitLocation fans a sample out to all registered location callbacks.
// A panicking callback is isolated and logged; later callbacks still run.
func (h *Hub) EmitLocation(sample domain.LocationSample) {
	h.mu.Lock()
	entries := append([]locationEntry(nil), h.location...)
	h.mu.Unlock()
	for _, entry := range entries {
		h.deliver(func() { entry.fn(sample) })
	}
}

// EmitSharingState fans a sharing-state change out to all registered
// callbacks.
func (h *Hub) EmitSharingState(sharing bool) {
	h.mu.Lock()
	entries := append([]sharingEntry(nil), h.sharing...)
	h.mu.Unlock()
	for _, entry := range entries {
		h.deliver(func() { entry.fn(sharing) })
	}
}

func (h *Hub) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
