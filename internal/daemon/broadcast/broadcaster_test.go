package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/grovetools/relay/logging"
	"github.com/grovetools/relay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *store.Store
	registry *registry.Registry
	events   *bus.Bus
	bcast    *Broadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewLogger("test")
	events := bus.New(logger)
	st := store.New(events)
	reg := registry.New(8, logger)
	b := New(st, reg, events, 20*time.Millisecond, logger)

	t.Cleanup(func() {
		b.Close()
		events.Close()
	})
	return &harness{store: st, registry: reg, events: events, bcast: b}
}

// connect registers a session, attaches it, and waits for the initial full
// sync so tests start from a known delivery state.
func (h *harness) connect(t *testing.T, prefs registry.Preferences) (*registry.Session, *testutil.RecordingTransport) {
	t.Helper()
	transport := &testutil.RecordingTransport{}
	sess, err := h.registry.Register(transport, prefs)
	require.NoError(t, err)
	h.bcast.Attach(sess)
	require.True(t, transport.WaitForUpdates(1, 2*time.Second), "initial full sync not delivered")
	return sess, transport
}

func TestInitialFullSync(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Apply(store.Patch{"editor.activeFile": "main.go"})
	require.NoError(t, err)

	_, transport := h.connect(t, registry.Preferences{Incremental: true})

	updates := transport.Updates()
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Incremental, "first payload must be a full snapshot")
	assert.Equal(t, h.store.Version(), updates[0].Version)

	fields, ok := updates[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "editor")
}

func TestFullOnlyClientNeverGetsIncremental(t *testing.T) {
	h := newHarness(t)
	sess, transport := h.connect(t, registry.Preferences{Incremental: false})

	for i := 0; i < 5; i++ {
		_, err := h.store.Apply(store.Patch{"n": i})
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
	}

	require.True(t, transport.WaitForUpdates(2, 2*time.Second))
	for _, u := range transport.Updates() {
		assert.False(t, u.Incremental)
	}
	assert.Equal(t, 0, sess.IncrementalUpdates())
}

func TestIncrementalDelivery(t *testing.T) {
	h := newHarness(t)
	sess, transport := h.connect(t, registry.Preferences{Incremental: true})

	_, err := h.store.Apply(store.Patch{"editor.line": 10})
	require.NoError(t, err)

	require.True(t, transport.WaitForUpdates(2, 2*time.Second))
	updates := transport.Updates()
	last := updates[len(updates)-1]
	assert.True(t, last.Incremental)
	assert.Equal(t, h.store.Version(), last.Version)

	diff, ok := last.Data.(store.Patch)
	require.True(t, ok)
	assert.Equal(t, 10, diff["editor.line"])
	assert.Equal(t, h.store.Version(), sess.LastDeliveredVersion())
	assert.Equal(t, 1, sess.IncrementalUpdates())
}

func TestBurstIsCoalesced(t *testing.T) {
	h := newHarness(t)
	sess, transport := h.connect(t, registry.Preferences{
		Incremental:       true,
		MinUpdateInterval: 300 * time.Millisecond,
	})

	// A burst well inside the throttle window coalesces into one flush.
	for i := 0; i < 10; i++ {
		_, err := h.store.Apply(store.Patch{fmt.Sprintf("f%d", i): i, "last": i})
		require.NoError(t, err)
	}

	require.True(t, transport.WaitForUpdates(2, 2*time.Second))
	time.Sleep(400 * time.Millisecond) // no further flushes should arrive

	updates := transport.Updates()
	require.Len(t, updates, 2, "burst should collapse into a single delivery")

	last := updates[1]
	assert.True(t, last.Incremental)
	assert.Equal(t, h.store.Version(), last.Version)
	diff := last.Data.(store.Patch)
	assert.Equal(t, 9, diff["last"], "later events must overwrite earlier ones in the merged diff")
	assert.Equal(t, h.store.Version(), sess.LastDeliveredVersion())
}

func TestStaleClientGetsFullSnapshot(t *testing.T) {
	h := newHarness(t)
	_, transport := h.connect(t, registry.Preferences{
		Incremental:       true,
		MinUpdateInterval: 150 * time.Millisecond,
	})

	// More changes than the store retains diffs for, all inside one window.
	for i := 0; i < 80; i++ {
		_, err := h.store.Apply(store.Patch{"n": i})
		require.NoError(t, err)
	}

	require.True(t, transport.WaitForUpdates(2, 2*time.Second))
	updates := transport.Updates()
	last := updates[len(updates)-1]
	assert.False(t, last.Incremental, "a too-stale client must be resynced with a full snapshot")
	assert.Equal(t, h.store.Version(), last.Version)
}

func TestFieldFilters(t *testing.T) {
	h := newHarness(t)
	_, transport := h.connect(t, registry.Preferences{
		Incremental:  true,
		FieldFilters: []string{"editor.*"},
	})

	_, err := h.store.Apply(store.Patch{"editor.line": 3, "git.branch": "main"})
	require.NoError(t, err)

	require.True(t, transport.WaitForUpdates(2, 2*time.Second))
	updates := transport.Updates()
	diff := updates[len(updates)-1].Data.(store.Patch)
	assert.Contains(t, diff, "editor.line")
	assert.NotContains(t, diff, "git.branch")
}

func TestFilteredOutDiffAdvancesWithoutDelivery(t *testing.T) {
	h := newHarness(t)
	sess, transport := h.connect(t, registry.Preferences{
		Incremental:  true,
		FieldFilters: []string{"editor.*"},
	})

	_, err := h.store.Apply(store.Patch{"git.branch": "dev"})
	require.NoError(t, err)

	// The session must catch up version-wise without receiving a payload.
	require.Eventually(t, func() bool {
		return sess.LastDeliveredVersion() == h.store.Version()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, transport.Updates(), 1)
}

func TestSendFailureDisconnectsOnlyThatSession(t *testing.T) {
	h := newHarness(t)

	failing := &testutil.RecordingTransport{SendErr: fmt.Errorf("broken pipe")}
	bad, err := h.registry.Register(failing, registry.Preferences{Incremental: true})
	require.NoError(t, err)
	h.bcast.Attach(bad)

	_, good := h.connect(t, registry.Preferences{Incremental: true})

	_, err = h.store.Apply(store.Patch{"x": 1})
	require.NoError(t, err)

	require.True(t, good.WaitForUpdates(2, 2*time.Second), "healthy session must keep receiving")
	require.Eventually(t, func() bool {
		_, ok := h.registry.Get(bad.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "failing session must be unregistered")
	assert.True(t, failing.Closed())
}

func TestBroadcastFullState(t *testing.T) {
	h := newHarness(t)
	_, t1 := h.connect(t, registry.Preferences{Incremental: true, MinUpdateInterval: time.Minute})
	_, t2 := h.connect(t, registry.Preferences{Incremental: false})

	_, err := h.store.Apply(store.Patch{"x": 1})
	require.NoError(t, err)

	// The minute-long throttle would normally hold the first session's
	// delivery; a forced resync bypasses it.
	h.bcast.BroadcastFullState()

	require.True(t, t1.WaitForUpdates(2, 2*time.Second))
	require.True(t, t2.WaitForUpdates(2, 2*time.Second))

	for _, transport := range []*testutil.RecordingTransport{t1, t2} {
		updates := transport.Updates()
		last := updates[len(updates)-1]
		assert.False(t, last.Incremental)
		assert.Equal(t, h.store.Version(), last.Version)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	h := newHarness(t)
	_, transport := h.connect(t, registry.Preferences{Incremental: true})

	h.bcast.Close()
	h.bcast.Close() // idempotent

	_, err := h.store.Apply(store.Patch{"x": 1})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, transport.Updates(), 1, "no delivery after Close")
}

func TestUnregisterCancelsPendingTimer(t *testing.T) {
	h := newHarness(t)
	sess, transport := h.connect(t, registry.Preferences{
		Incremental:       true,
		MinUpdateInterval: 50 * time.Millisecond,
	})

	_, err := h.store.Apply(store.Patch{"x": 1})
	require.NoError(t, err)

	// Unregister while the coalescing timer is armed.
	h.registry.Unregister(sess.ID)
	time.Sleep(150 * time.Millisecond)

	assert.Len(t, transport.Updates(), 1, "no flush may fire after unregister")
}

func TestChangeBeforeAttachStaysBehindFullSync(t *testing.T) {
	h := newHarness(t)
	transport := &testutil.RecordingTransport{}
	sess, err := h.registry.Register(transport, registry.Preferences{Incremental: true})
	require.NoError(t, err)

	// The session is visible to the change fan-out as soon as it is
	// registered, before its initial sync has gone out.
	_, err = h.store.Apply(store.Patch{"editor.line": 1})
	require.NoError(t, err)
	_, err = h.store.Apply(store.Patch{"editor.line": 2})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, transport.Updates(), "nothing may be delivered before the initial full sync")

	h.bcast.Attach(sess)
	require.True(t, transport.WaitForUpdates(1, 2*time.Second), "initial full sync not delivered")

	updates := transport.Updates()
	assert.False(t, updates[0].Incremental, "first delivery must be the full snapshot")
	assert.Equal(t, uint64(2), updates[0].Version)
	for _, update := range updates[1:] {
		assert.True(t, update.Incremental)
	}
}

func TestChangeDuringInitialSyncIsCaughtUp(t *testing.T) {
	h := newHarness(t)
	transport := &testutil.RecordingTransport{SendDelay: 80 * time.Millisecond}
	sess, err := h.registry.Register(transport, registry.Preferences{Incremental: true})
	require.NoError(t, err)
	h.bcast.Attach(sess)

	// The full send is still in flight when this change commits.
	time.Sleep(20 * time.Millisecond)
	_, err = h.store.Apply(store.Patch{"editor.line": 7})
	require.NoError(t, err)

	require.True(t, transport.WaitForUpdates(2, 2*time.Second), "catch-up diff not delivered")

	updates := transport.Updates()
	assert.False(t, updates[0].Incremental, "first delivery must be the full snapshot")
	require.True(t, updates[1].Incremental)
	assert.Equal(t, uint64(1), updates[1].Version)
}
