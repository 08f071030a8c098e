package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/grovetools/relay/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsConfigReload(t *testing.T) {
	dir := t.TempDir()
	events := bus.New(logging.NewLogger("test"))
	defer events.Close()

	var mu sync.Mutex
	var got []bus.Event
	events.Subscribe(func(e bus.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	w, err := New(dir, events, 50*time.Millisecond, logging.NewLogger("test"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.toml"), []byte("http_port = 7420\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, bus.EventConfigReload, got[0].Type)
	assert.Equal(t, "relay.toml", got[0].Data)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	events := bus.New(logging.NewLogger("test"))
	defer events.Close()

	var mu sync.Mutex
	count := 0
	events.Subscribe(func(e bus.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	w, err := New(dir, events, 10*time.Millisecond, logging.NewLogger("test"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	events := bus.New(logging.NewLogger("test"))
	defer events.Close()

	w, err := New(dir, events, time.Millisecond, logging.NewLogger("test"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
