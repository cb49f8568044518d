// Package permission tracks the process-wide geolocation permission state and
// notifies subscribers when it changes.
package permission

import (
	"sync"

	"github.com/couchcryptid/cep-locator/internal/domain"
)

// Tracker holds the current permission state. The zero value is not usable;
// create one with NewTracker.
type Tracker struct {
	mu     sync.Mutex
	state  domain.PermissionState
	nextID int
	subs   map[int]func(domain.PermissionState)
}

// NewTracker creates a Tracker in the unknown state.
func NewTracker() *Tracker {
	return &Tracker{
		state: domain.PermissionUnknown,
		subs:  make(map[int]func(domain.PermissionState)),
	}
}

// State returns the current permission state.
func (t *Tracker) State() domain.PermissionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set records a new state and notifies subscribers if it differs from the
// current one. Subscribers run synchronously on the caller's goroutine, after
// the lock is released. Reports whether the state changed.
func (t *Tracker) Set(state domain.PermissionState) bool {
	t.mu.Lock()
	if state == t.state {
		t.mu.Unlock()
		return false
	}
	t.state = state
	subs := make([]func(domain.PermissionState), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
	return true
}

// Subscribe registers fn to be called on every state change. The returned
// function removes the subscription and is safe to call more than once.
func (t *Tracker) Subscribe(fn func(domain.PermissionState)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}
