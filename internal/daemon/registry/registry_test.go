package registry

import (
	"testing"
	"time"

	"github.com/grovetools/relay/errors"
	"github.com/grovetools/relay/logging"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/grovetools/relay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := New(4, logging.NewLogger("test"))

	sess, err := r.Register(&testutil.RecordingTransport{}, Preferences{Incremental: true})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	removed := r.Unregister(sess.ID)
	assert.Same(t, sess, removed)
	assert.Equal(t, 0, r.Count())

	// Idempotent
	assert.Nil(t, r.Unregister(sess.ID))
}

func TestRegisterCapacity(t *testing.T) {
	r := New(2, logging.NewLogger("test"))

	s1, err := r.Register(&testutil.RecordingTransport{}, Preferences{})
	require.NoError(t, err)
	_, err = r.Register(&testutil.RecordingTransport{}, Preferences{})
	require.NoError(t, err)

	_, err = r.Register(&testutil.RecordingTransport{}, Preferences{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCapacityExceeded))

	// Existing sessions are unaffected
	assert.Equal(t, 2, r.Count())
	_, ok := r.Get(s1.ID)
	assert.True(t, ok)

	// Freeing a slot allows a new registration
	r.Unregister(s1.ID)
	_, err = r.Register(&testutil.RecordingTransport{}, Preferences{})
	assert.NoError(t, err)
}

func TestListIsOrderedByRegistration(t *testing.T) {
	r := New(8, logging.NewLogger("test"))

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := r.Register(&testutil.RecordingTransport{}, Preferences{})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	r.Unregister(ids[2])

	list := r.List()
	require.Len(t, list, 4)
	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]},
		[]string{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
}

func TestUnregisterHook(t *testing.T) {
	r := New(4, logging.NewLogger("test"))

	var hooked []string
	r.SetOnUnregister(func(s *Session) {
		hooked = append(hooked, s.ID)
	})

	sess, err := r.Register(&testutil.RecordingTransport{}, Preferences{})
	require.NoError(t, err)

	r.Unregister(sess.ID)
	r.Unregister(sess.ID) // second call must not re-fire the hook
	assert.Equal(t, []string{sess.ID}, hooked)
}

func TestMarkDelivered(t *testing.T) {
	sess := &Session{ID: "s", ConnectedAt: time.Now()}

	sess.MarkDelivered(5, false)
	assert.Equal(t, uint64(5), sess.LastDeliveredVersion())
	assert.Equal(t, 0, sess.IncrementalUpdates())

	sess.MarkDelivered(6, true)
	sess.MarkDelivered(7, true)
	assert.Equal(t, uint64(7), sess.LastDeliveredVersion())
	assert.Equal(t, 2, sess.IncrementalUpdates())

	// Delivered version never decreases
	sess.MarkDelivered(3, true)
	assert.Equal(t, uint64(7), sess.LastDeliveredVersion())

	// A full sync resets the incremental counter
	sess.MarkDelivered(8, false)
	assert.Equal(t, 0, sess.IncrementalUpdates())
}

func TestPreferencesFieldFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		path    string
		want    bool
	}{
		{"no filters match everything", nil, "editor.activeFile", true},
		{"exact match", []string{"editor.activeFile"}, "editor.activeFile", true},
		{"exact mismatch", []string{"editor.activeFile"}, "git.branch", false},
		{"wildcard", []string{"editor.*"}, "editor.activeFile", true},
		{"wildcard mismatch", []string{"editor.*"}, "git.branch", false},
		{"parent match", []string{"editor"}, "editor.cursor.line", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Preferences{FieldFilters: tt.filters}
			assert.Equal(t, tt.want, p.WantsField(tt.path))
		})
	}
}

func TestPreferencesProtocolRoundTrip(t *testing.T) {
	wire := protocol.Preferences{
		Incremental:         true,
		MinUpdateIntervalMs: 250,
		FieldFilters:        []string{"editor.*"},
	}
	prefs := FromProtocol(wire)
	assert.Equal(t, 250*time.Millisecond, prefs.MinUpdateInterval)
	assert.Equal(t, wire, prefs.ToProtocol())
}
