package chat

import (
	"context"
	"sync"
)

// Channel keys scoping the at-most-one-in-flight rule.
const (
	ChannelChat       = "chat"
	ChannelImage      = "image"
	ChannelVoice      = "voice"
	ChannelTranscribe = "transcribe"
)

type handle struct {
	cancel context.CancelFunc
}

// Registry maps channel keys to in-flight request cancellations. It is
// owned by the controller, not a process-wide singleton, so cancellation
// stays testable.
type Registry struct {
	mu     sync.Mutex
	active map[string]*handle
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*handle)}
}

// Begin registers a new request under key, cancelling any occupant first.
// The returned release func unregisters this request; a later occupant of
// the same key is left alone.
func (r *Registry) Begin(key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[key]; ok {
		prev.cancel()
	}
	r.active[key] = h
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.active[key] == h {
			delete(r.active, key)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// CancelAll cancels every registered request and clears the registry.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	for key, h := range r.active {
		h.cancel()
		delete(r.active, key)
	}
	r.mu.Unlock()
}

// Active reports how many requests are currently registered.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
