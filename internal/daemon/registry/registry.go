// Package registry tracks connected client sessions, their preferences, and
// the connection capacity limit.
package registry

import (
	"sync"
	"time"

	"github.com/grovetools/relay/errors"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Registry owns the session table. All mutation goes through Register and
// Unregister; readers get copies.
type Registry struct {
	mu           sync.Mutex
	max          int
	sessions     map[string]*Session
	order        []string // registration order, for stable List output
	onUnregister func(*Session)
	logger       *logrus.Entry
}

// New creates a registry capped at maxConnections active sessions.
func New(maxConnections int, logger *logrus.Entry) *Registry {
	return &Registry{
		max:      maxConnections,
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// SetOnUnregister installs a hook invoked after a session is removed,
// used by the broadcaster to cancel the session's pending throttle timer.
func (r *Registry) SetOnUnregister(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = fn
}

// Register creates a session for the transport. It fails with
// CAPACITY_EXCEEDED once maxConnections sessions are active. The caller is
// expected to follow up with one immediate full-state send.
func (r *Registry) Register(t Transport, prefs Preferences) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return nil, errors.CapacityExceeded(r.max)
	}

	sess := &Session{
		ID:          ulid.Make().String(),
		ConnectedAt: time.Now(),
		Transport:   t,
		prefs:       prefs,
	}
	r.sessions[sess.ID] = sess
	r.order = append(r.order, sess.ID)

	r.logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"count":   len(r.sessions),
	}).Info("Session registered")
	return sess, nil
}

// Unregister removes a session and returns it, or nil if it was already
// gone. Idempotent.
func (r *Registry) Unregister(id string) *Session {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hook := r.onUnregister
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session": id,
		"count":   count,
	}).Info("Session unregistered")

	if hook != nil {
		hook(sess)
	}
	return sess
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List returns the active sessions in registration order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close unregisters every session and closes its transport. Called on
// daemon shutdown.
func (r *Registry) Close() {
	for _, sess := range r.List() {
		r.Unregister(sess.ID)
		_ = sess.Transport.Close()
	}
}
