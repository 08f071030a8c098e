// Package watch observes the relay config directory and announces changes on
// the event bus so connected clients are resynced. The allowlist and ports
// are fixed at process start; a config change only triggers a full-state
// broadcast, never a live reconfiguration.
package watch

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/sirupsen/logrus"
)

// Watcher debounces file events in the config directory and emits a
// config.reloaded event per settled change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	events   *bus.Bus
	debounce time.Duration
	logger   *logrus.Entry

	mu         sync.Mutex
	lastChange time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a watcher over the given config directory. debounce controls
// how long rapid successive changes are folded into one notification.
func New(configDir string, events *bus.Bus, debounce time.Duration, logger *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(configDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		events:   events,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.handleChange(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

// relevant keeps only write/create/remove events on config files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	return strings.HasSuffix(name, ".toml") || strings.HasSuffix(name, ".yml")
}

func (w *Watcher) handleChange(file string) {
	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.lastChange) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastChange = now
	w.mu.Unlock()

	w.logger.WithField("file", filepath.Base(file)).Info("Config file changed")
	w.events.Emit(bus.Event{
		Type:      bus.EventConfigReload,
		Timestamp: now,
		Data:      filepath.Base(file),
	})
}

// Close stops watching. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
