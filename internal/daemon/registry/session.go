package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/grovetools/relay/pkg/protocol"
	"github.com/moby/patternmatcher"
)

// Transport is the send side of one client connection. Implementations must
// bound each send; a send that cannot complete returns an error.
type Transport interface {
	SendStateUpdate(update protocol.StateUpdate) error
	SendCommandResult(result protocol.CommandResult) error
	Close() error
}

// Preferences is a session's delivery contract.
type Preferences struct {
	// Incremental requests diffs instead of full snapshots when possible.
	Incremental bool

	// MinUpdateInterval is the minimum spacing between deliveries to this
	// session. Zero means the daemon default.
	MinUpdateInterval time.Duration

	// FieldFilters restricts delivery to matching field paths,
	// dockerignore-style (e.g. "editor.*", "git.**"). Empty means all fields.
	FieldFilters []string

	matcher *patternmatcher.PatternMatcher
}

// FromProtocol converts wire preferences into registry preferences.
func FromProtocol(p protocol.Preferences) Preferences {
	return Preferences{
		Incremental:       p.Incremental,
		MinUpdateInterval: time.Duration(p.MinUpdateIntervalMs) * time.Millisecond,
		FieldFilters:      p.FieldFilters,
	}
}

// ToProtocol converts registry preferences back into wire form.
func (p Preferences) ToProtocol() protocol.Preferences {
	return protocol.Preferences{
		Incremental:         p.Incremental,
		MinUpdateIntervalMs: int(p.MinUpdateInterval / time.Millisecond),
		FieldFilters:        p.FieldFilters,
	}
}

// WantsField reports whether the session is interested in the given dotted
// field path. Pattern matching treats dots as path separators so "editor.*"
// matches "editor.activeFile".
func (p *Preferences) WantsField(path string) bool {
	if len(p.FieldFilters) == 0 {
		return true
	}
	if p.matcher == nil {
		patterns := make([]string, len(p.FieldFilters))
		for i, f := range p.FieldFilters {
			patterns[i] = strings.ReplaceAll(f, ".", "/")
		}
		m, err := patternmatcher.New(patterns)
		if err != nil {
			return true // unusable filters deliver everything
		}
		p.matcher = m
	}
	matched, err := p.matcher.MatchesOrParentMatches(strings.ReplaceAll(path, ".", "/"))
	if err != nil {
		return true
	}
	return matched
}

// Session is the registry's record of one connected client.
type Session struct {
	ID          string
	ConnectedAt time.Time
	Transport   Transport

	mu                   sync.Mutex
	prefs                Preferences
	lastDeliveredVersion uint64
	incrementalUpdates   int
}

// Preferences returns a copy of the session's current preferences.
func (s *Session) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// SetPreferences replaces the session's preferences. Valid while connected.
func (s *Session) SetPreferences(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
}

// LastDeliveredVersion returns the newest state version the client holds.
func (s *Session) LastDeliveredVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDeliveredVersion
}

// IncrementalUpdates returns the number of diffs delivered since the last
// full sync point.
func (s *Session) IncrementalUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementalUpdates
}

// AdvanceDelivered moves the delivered version forward without counting a
// delivery. Used when a diff is entirely filtered out for this session.
func (s *Session) AdvanceDelivered(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.lastDeliveredVersion {
		s.lastDeliveredVersion = version
	}
}

// MarkDelivered records a completed delivery. The delivered version never
// moves the session backwards. A full snapshot resets the incremental
// counter; a diff increments it.
func (s *Session) MarkDelivered(version uint64, incremental bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.lastDeliveredVersion {
		s.lastDeliveredVersion = version
	}
	if incremental {
		s.incrementalUpdates++
	} else {
		s.incrementalUpdates = 0
	}
}

// Info is a read-only snapshot of a session for reporting.
type Info struct {
	ID                   string               `json:"id"`
	ConnectedAt          time.Time            `json:"connectedAt"`
	LastDeliveredVersion uint64               `json:"lastDeliveredVersion"`
	IncrementalUpdates   int                  `json:"incrementalUpdates"`
	Preferences          protocol.Preferences `json:"preferences"`
}

// Info returns a consistent snapshot of the session's delivery state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:                   s.ID,
		ConnectedAt:          s.ConnectedAt,
		LastDeliveredVersion: s.lastDeliveredVersion,
		IncrementalUpdates:   s.incrementalUpdates,
		Preferences:          s.prefs.ToProtocol(),
	}
}
