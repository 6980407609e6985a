package peer

import (
	"sync"

	"github.com/google/uuid"
)

type binding struct {
	inbox     *Inbox
	channelID string
}

// Registry maps endpoint names to locally hosted inboxes. A client binds
// each inbox under the correspondent's username.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]binding)}
}

// Bind registers inbox under name, replacing any previous binding, and
// returns the channel ID handed out to senders that handshake with it.
func (r *Registry) Bind(name string, inbox *Inbox) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.bindings[name] = binding{inbox: inbox, channelID: id}
	r.mu.Unlock()
	return id
}

// Unbind removes name only while it still points at inbox, so closing a
// stale chat cannot tear down its replacement.
func (r *Registry) Unbind(name string, inbox *Inbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[name]
	if !ok || b.inbox != inbox {
		return false
	}
	delete(r.bindings, name)
	return true
}

func (r *Registry) Lookup(name string) (*Inbox, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b.inbox, b.channelID, ok
}
