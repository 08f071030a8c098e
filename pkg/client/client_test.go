package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/relay/config"
	"github.com/grovetools/relay/internal/daemon/broadcast"
	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/grovetools/relay/internal/daemon/gateway"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/server"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/grovetools/relay/logging"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/grovetools/relay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemonHarness struct {
	api    *httptest.Server
	ws     *httptest.Server
	store  *store.Store
	runner *testutil.CountingRunner
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()
	logger := logging.NewLogger("test")

	cfg := config.Default()
	events := bus.New(logger)
	st := store.New(events)
	sessions := registry.New(cfg.MaxConnections, logger)
	bcast := broadcast.New(st, sessions, events, cfg.DefaultMinUpdateInterval(), logger)

	allowlist, err := gateway.LoadAllowlist("")
	require.NoError(t, err)
	runner := &testutil.CountingRunner{}
	gw := gateway.New(runner, allowlist, logger)

	srv := server.New(cfg, st, sessions, bcast, gw, logger)
	api := httptest.NewServer(srv.Handler())
	ws := httptest.NewServer(srv.WebSocketHandler())

	t.Cleanup(func() {
		ws.Close()
		api.Close()
		gw.Dispose()
		bcast.Close()
		events.Close()
	})

	return &daemonHarness{api: api, ws: ws, store: st, runner: runner}
}

func (h *daemonHarness) clientOptions(prefs protocol.Preferences) Options {
	return Options{
		BaseURL:     h.api.URL,
		StreamURL:   "ws" + strings.TrimPrefix(h.ws.URL, "http"),
		Preferences: prefs,
	}
}

func TestStateRoundTrip(t *testing.T) {
	h := startDaemon(t)
	c := New(h.clientOptions(protocol.Preferences{}))

	assert.True(t, c.IsRunning())

	activeFile := testutil.RandomString(12) + ".go"
	version, err := c.ApplyPatch(context.Background(), map[string]any{
		"editor.activeFile": activeFile,
		"git.branch":        "feature/sync",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	snap, err := c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	editor := snap.Fields["editor"].(map[string]any)
	assert.Equal(t, activeFile, editor["activeFile"])
}

func TestMirrorTracksDaemonState(t *testing.T) {
	h := startDaemon(t)
	c := New(h.clientOptions(protocol.Preferences{Incremental: true}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	// Initial full sync.
	select {
	case update := <-c.Updates():
		assert.False(t, update.Incremental)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial sync")
	}

	_, err := c.ApplyPatch(context.Background(), map[string]any{"editor.line": 42})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Mirror().Version == 1
	}, 2*time.Second, 10*time.Millisecond)

	mirror := c.Mirror()
	editor, ok := mirror.Fields["editor"].(map[string]any)
	require.True(t, ok, "mirror should rebuild nested objects from the diff")
	assert.Equal(t, float64(42), editor["line"])
}

func TestExecute(t *testing.T) {
	h := startDaemon(t)
	c := New(h.clientOptions(protocol.Preferences{}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Execute(ctx, "workbench.action.files.save"))
	assert.Equal(t, []string{"workbench.action.files.save"}, h.runner.Commands())

	err := c.Execute(ctx, "not.a.real.command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowlist")
	assert.Equal(t, 1, h.runner.Calls())
}

func TestCommandsAndSessions(t *testing.T) {
	h := startDaemon(t)
	c := New(h.clientOptions(protocol.Preferences{}))

	commands, groups, err := c.Commands(context.Background())
	require.NoError(t, err)
	assert.Contains(t, commands, "workbench.action.files.save")
	require.NotEmpty(t, groups)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	// Give the daemon a moment to register the session.
	require.Eventually(t, func() bool {
		sessions, err := c.Sessions(context.Background())
		return err == nil && len(sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResync(t *testing.T) {
	h := startDaemon(t)
	c := New(h.clientOptions(protocol.Preferences{Incremental: true}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	<-c.Updates() // initial sync

	require.NoError(t, c.Resync(context.Background()))

	select {
	case update := <-c.Updates():
		assert.False(t, update.Incremental, "resync always pushes a full snapshot")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resync update")
	}
}
