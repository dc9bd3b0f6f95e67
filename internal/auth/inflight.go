package auth

import (
	"errors"
	"sync"
)

// ErrInFlight is returned when the same browser already has a submission of the
// same form outstanding.
var ErrInFlight = errors.New("request already in progress")

// InFlight guards against duplicate concurrent submissions per (session, form).
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInFlight returns an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// Begin marks the form busy for the session. The returned release must be called
// once the submission finishes; it is safe to call more than once.
func (g *InFlight) Begin(sessionID, form string) (func(), error) {
	key := sessionID + "\x00" + form
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return nil, ErrInFlight
	}
	g.active[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the form is currently being submitted by the session.
func (g *InFlight) Busy(sessionID, form string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[sessionID+"\x00"+form]
	return busy
}
