package store

import (
	"strings"
	"sync"
	"time"

	"github.com/grovetools/relay/errors"
	"github.com/grovetools/relay/internal/daemon/bus"
)

// diffRetention is the number of recent patches kept for incremental sync.
// Clients further behind than this receive a full snapshot instead.
const diffRetention = 64

// Store is the single source of truth for workspace state. All mutation goes
// through Apply; readers always see a complete snapshot.
type Store struct {
	mu      sync.RWMutex
	fields  map[string]any
	version uint64
	history []Change // last diffRetention committed patches, oldest first
	events  *bus.Bus
}

// New creates an empty store. The bus may be nil when no one listens for
// change events (tests mostly).
func New(events *bus.Bus) *Store {
	return &Store{
		fields: make(map[string]any),
		events: events,
	}
}

// Version returns the current state version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a deep copy of the current state and its version.
// It never blocks a concurrent mutation for longer than the copy itself.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Fields:  deepCopyMap(s.fields),
		Version: s.version,
	}
}

// Apply merges the patch into the state and bumps the version by exactly one.
// The whole patch is validated first: a malformed path fails the mutation
// without touching state or version. On commit, a state.changed event is
// emitted before any later mutation can commit, so event order matches
// version order.
func (s *Store) Apply(patch Patch) (uint64, error) {
	if len(patch) == 0 {
		return 0, errors.New(errors.ErrCodeInvalidPatch, "empty patch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for path := range patch {
		if err := s.validatePath(path); err != nil {
			return 0, err
		}
	}

	for _, path := range patch.sortedPaths() {
		applyField(s.fields, strings.Split(path, "."), patch[path])
	}
	s.version++

	change := Change{Version: s.version, Patch: patch.Clone()}
	s.history = append(s.history, change)
	if len(s.history) > diffRetention {
		s.history = s.history[len(s.history)-diffRetention:]
	}

	if s.events != nil {
		s.events.Emit(bus.Event{
			Type:        bus.EventStateChanged,
			Timestamp:   time.Now(),
			Incremental: true,
			Data:        change,
		})
	}

	return s.version, nil
}

// DiffSince returns the merged patch that brings a snapshot at version v up
// to the returned current version. ok is false when v is outside the
// retention window (or ahead of the store), meaning the caller must fall
// back to a full snapshot.
func (s *Store) DiffSince(v uint64) (Patch, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v > s.version {
		return nil, s.version, false
	}
	if v == s.version {
		return Patch{}, s.version, true
	}

	behind := s.version - v
	if behind > uint64(len(s.history)) {
		return nil, s.version, false
	}

	var diff Patch
	for _, change := range s.history[len(s.history)-int(behind):] {
		diff = diff.Merge(change.Patch)
	}
	return diff, s.version, true
}

// validatePath rejects malformed dotted paths and paths that would traverse
// through an existing non-object field. Called with the write lock held.
func (s *Store) validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.InvalidPatch(path, "empty field path")
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return errors.InvalidPatch(path, "empty path segment")
		}
	}

	node := s.fields
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg]
		if !ok {
			return nil // remainder will be created as nested maps
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return errors.InvalidPatch(path, "path traverses non-object field "+seg)
		}
		node = childMap
	}
	return nil
}

// applyField walks the path, creating intermediate maps, and sets or deletes
// the leaf. A nil value deletes.
func applyField(node map[string]any, segments []string, value any) {
	leaf := segments[len(segments)-1]
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if value == nil {
				return // deleting under a missing branch is a no-op
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	if value == nil {
		delete(node, leaf)
		return
	}
	node[leaf] = value
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if m, ok := v.(map[string]any); ok {
			dst[k] = deepCopyMap(m)
		} else {
			dst[k] = v
		}
	}
	return dst
}

// ApplyPatchTo applies a patch to an arbitrary field map, using the same
// merge semantics and ordering as Apply. Clients use it to advance a local
// mirror with a received diff.
func ApplyPatchTo(fields map[string]any, patch Patch) {
	for _, path := range patch.sortedPaths() {
		applyField(fields, strings.Split(path, "."), patch[path])
	}
}
