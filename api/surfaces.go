package api

import (
	"fmt"
	"sync"

	"ffedit/bridge"
)

const surfaceBuffer = 32

// SurfaceHub is the bridge host for UI surfaces connected over SSE. A
// surface is live while its event stream is open.
type SurfaceHub struct {
	mu       sync.Mutex
	surfaces map[string]chan bridge.Message
}

func NewSurfaceHub() *SurfaceHub {
	return &SurfaceHub{surfaces: make(map[string]chan bridge.Message)}
}

// Attach registers name as live. A second attach under the same name
// replaces the first, whose channel is closed. The returned func detaches.
func (h *SurfaceHub) Attach(name string) (<-chan bridge.Message, func()) {
	ch := make(chan bridge.Message, surfaceBuffer)

	h.mu.Lock()
	if old, ok := h.surfaces[name]; ok {
		close(old)
	}
	h.surfaces[name] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if cur, ok := h.surfaces[name]; ok && cur == ch {
				delete(h.surfaces, name)
				close(ch)
			}
		})
	}
}

func (h *SurfaceHub) Live(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.surfaces[name]
	return ok
}

// Deliver implements bridge.Host.
func (h *SurfaceHub) Deliver(target string, msg bridge.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.surfaces[target]
	if !ok {
		return fmt.Errorf("surface %s is not open: %w", target, bridge.ErrUnavailable)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("surface %s is not reading its events: %w", target, bridge.ErrUnavailable)
	}
}
