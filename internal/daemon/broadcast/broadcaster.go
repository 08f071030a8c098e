// Package broadcast turns the stream of change events into per-session
// deliveries, coalescing bursts into each session's declared cadence and
// deciding between full snapshots and diffs.
package broadcast

import (
	"sync"
	"time"

	"github.com/grovetools/relay/internal/daemon/bus"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// pendingDelivery is the throttle state for one session.
type pendingDelivery struct {
	attached  bool        // initial full sync has been delivered
	dirty     bool        // a change arrived while the interval was open
	timer     *time.Timer // pending flush, nil when none scheduled
	lastFlush time.Time
	sendMu    sync.Mutex // serializes sends to this session
}

// Broadcaster consumes change events and pushes payloads to every registered
// session. Each session's send path is independent: a slow or dead transport
// stalls and tears down only its own session.
type Broadcaster struct {
	store           *store.Store
	sessions        *registry.Registry
	events          *bus.Bus
	sub             *bus.Subscription
	defaultInterval time.Duration
	logger          *logrus.Entry

	mu      sync.Mutex
	pending map[string]*pendingDelivery
	closed  bool
}

// New wires a broadcaster to the store, registry, and event bus. It
// subscribes to the bus immediately and installs the registry hook that
// cancels a session's throttle timer on unregister.
func New(st *store.Store, sessions *registry.Registry, events *bus.Bus, defaultInterval time.Duration, logger *logrus.Entry) *Broadcaster {
	b := &Broadcaster{
		store:           st,
		sessions:        sessions,
		events:          events,
		defaultInterval: defaultInterval,
		pending:         make(map[string]*pendingDelivery),
		logger:          logger,
	}
	b.sub = events.Subscribe(b.onEvent)
	sessions.SetOnUnregister(b.onSessionGone)
	return b
}

func (b *Broadcaster) onEvent(e bus.Event) {
	switch e.Type {
	case bus.EventStateChanged:
		for _, sess := range b.sessions.List() {
			b.scheduleFlush(sess)
		}
	case bus.EventConfigReload:
		b.logger.Info("Config reloaded, forcing full resync")
		b.BroadcastFullState()
	}
}

func (b *Broadcaster) intervalFor(sess *registry.Session) time.Duration {
	if d := sess.Preferences().MinUpdateInterval; d > 0 {
		return d
	}
	return b.defaultInterval
}

// scheduleFlush either flushes the session immediately (interval already
// satisfied) or coalesces into the pending buffer and arms the flush timer.
func (b *Broadcaster) scheduleFlush(sess *registry.Session) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	p := b.ensurePendingLocked(sess.ID)

	if !p.attached {
		// The session is registered but its initial full sync has not gone
		// out yet. Nothing may be delivered before it; the change is noted
		// and caught up right after the full send.
		p.dirty = true
		b.mu.Unlock()
		return
	}

	if p.timer != nil {
		// A flush is already scheduled; the change folds into it.
		p.dirty = true
		b.mu.Unlock()
		return
	}

	interval := b.intervalFor(sess)
	elapsed := time.Since(p.lastFlush)
	if elapsed >= interval {
		p.lastFlush = time.Now()
		b.mu.Unlock()
		go b.flush(sess, false)
		return
	}

	p.dirty = true
	p.timer = time.AfterFunc(interval-elapsed, func() {
		b.onTimer(sess)
	})
	b.mu.Unlock()
}

func (b *Broadcaster) onTimer(sess *registry.Session) {
	b.mu.Lock()
	p, ok := b.pending[sess.ID]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	p.timer = nil
	if !p.dirty {
		b.mu.Unlock()
		return
	}
	p.dirty = false
	p.lastFlush = time.Now()
	b.mu.Unlock()

	b.flush(sess, false)
}

func (b *Broadcaster) ensurePendingLocked(id string) *pendingDelivery {
	p, ok := b.pending[id]
	if !ok {
		p = &pendingDelivery{}
		b.pending[id] = p
	}
	return p
}

// Attach performs the initial full-state send for a freshly registered
// session and opens its throttle window.
func (b *Broadcaster) Attach(sess *registry.Session) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	p := b.ensurePendingLocked(sess.ID)
	p.lastFlush = time.Now()
	b.mu.Unlock()

	go b.flush(sess, true)
}

// BroadcastFullState forces an immediate full-snapshot send to every
// session, bypassing throttling. Pending coalesced diffs are superseded.
func (b *Broadcaster) BroadcastFullState() {
	for _, sess := range b.sessions.List() {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		p := b.ensurePendingLocked(sess.ID)
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.dirty = false
		p.lastFlush = time.Now()
		b.mu.Unlock()

		go b.flush(sess, true)
	}
}

// flush sends one payload to the session: the merged diff since its last
// delivered version, or a full snapshot when the session asked for full
// updates, is too stale to diff, or full was forced.
func (b *Broadcaster) flush(sess *registry.Session, forceFull bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	p := b.ensurePendingLocked(sess.ID)
	b.mu.Unlock()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	prefs := sess.Preferences()

	if !forceFull && prefs.Incremental {
		diff, version, ok := b.store.DiffSince(sess.LastDeliveredVersion())
		if ok {
			if len(diff) == 0 {
				return // already current
			}
			filtered := filterPatch(diff, &prefs)
			if len(filtered) == 0 {
				// Nothing this session cares about; just advance.
				sess.AdvanceDelivered(version)
				return
			}
			b.send(sess, protocol.StateUpdate{
				Type:        bus.EventStateChanged,
				Timestamp:   time.Now(),
				Incremental: true,
				Version:     version,
				Data:        filtered,
			})
			return
		}
		// Too stale to diff; fall through to a full snapshot.
	}

	snap := b.store.Snapshot()
	b.send(sess, protocol.StateUpdate{
		Type:        bus.EventStateFull,
		Timestamp:   time.Now(),
		Incremental: false,
		Version:     snap.Version,
		Data:        filterSnapshot(snap.Fields, &prefs),
	})

	if forceFull {
		b.markAttached(sess)
	}
}

// markAttached opens the session's delivery path after its full send went
// out, and catches up on any change that committed while the send was in
// flight. Until this point scheduleFlush only records dirtiness, so the
// session can never see an incremental payload before its first full one.
func (b *Broadcaster) markAttached(sess *registry.Session) {
	b.mu.Lock()
	p, ok := b.pending[sess.ID]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	p.attached = true
	catchUp := p.dirty
	p.dirty = false
	b.mu.Unlock()

	if !catchUp {
		return
	}
	if _, ok := b.sessions.Get(sess.ID); ok {
		b.scheduleFlush(sess)
	}
}

// send delivers the payload and updates the session's delivery state. A
// transport failure disconnects the session; nothing else is affected.
func (b *Broadcaster) send(sess *registry.Session, update protocol.StateUpdate) {
	if err := sess.Transport.SendStateUpdate(update); err != nil {
		b.logger.WithFields(logrus.Fields{
			"session": sess.ID,
		}).WithError(err).Warn("Send failed, disconnecting session")
		b.disconnect(sess)
		return
	}
	sess.MarkDelivered(update.Version, update.Incremental)
}

func (b *Broadcaster) disconnect(sess *registry.Session) {
	b.sessions.Unregister(sess.ID)
	_ = sess.Transport.Close()
}

// onSessionGone cancels the session's throttle timer and drops its pending
// state. Installed as the registry's unregister hook so no orphaned timer
// can fire after teardown.
func (b *Broadcaster) onSessionGone(sess *registry.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[sess.ID]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, sess.ID)
	}
}

// Close unsubscribes from the bus and stops every pending timer. Safe to
// call multiple times; must be called before process shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	b.pending = make(map[string]*pendingDelivery)
	b.mu.Unlock()

	b.events.Unsubscribe(b.sub)
}
