package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/oklog/ulid/v2"
)

// stream is the WebSocket half of the client: it owns the connection, the
// local state mirror, and the in-flight command requests.
type stream struct {
	streamURL string
	prefs     protocol.Preferences

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	fields  map[string]any
	version uint64
	pending map[string]chan protocol.CommandResult
	closed  bool

	updates chan protocol.StateUpdate
	done    chan struct{}
}

func newStream(streamURL string, prefs protocol.Preferences) *stream {
	return &stream{
		streamURL: streamURL,
		prefs:     prefs,
		fields:    make(map[string]any),
		pending:   make(map[string]chan protocol.CommandResult),
		updates:   make(chan protocol.StateUpdate, 16),
		done:      make(chan struct{}),
	}
}

// connect dials the daemon with the declared preferences encoded in the
// query string, then starts the read loop.
func (s *stream) connect(ctx context.Context) error {
	u, err := url.Parse(s.streamURL)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}

	q := u.Query()
	if s.prefs.Incremental {
		q.Set("incremental", "true")
	}
	if s.prefs.MinUpdateIntervalMs > 0 {
		q.Set("minUpdateIntervalMs", strconv.Itoa(s.prefs.MinUpdateIntervalMs))
	}
	if len(s.prefs.FieldFilters) > 0 {
		q.Set("fields", strings.Join(s.prefs.FieldFilters, ","))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	s.conn = conn

	go s.readLoop()
	return nil
}

func (s *stream) readLoop() {
	defer func() {
		s.mu.Lock()
		s.closed = true
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()
		close(s.updates)
		close(s.done)
	}()

	for {
		var env protocol.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Kind {
		case protocol.KindStateUpdate:
			var update protocol.StateUpdate
			if err := env.DecodePayload(&update); err != nil {
				continue
			}
			s.applyUpdate(update)
			select {
			case s.updates <- update:
			default:
				// Slow consumer: drop rather than stall the mirror.
			}

		case protocol.KindCommandResult:
			var result protocol.CommandResult
			if err := env.DecodePayload(&result); err != nil {
				continue
			}
			s.mu.Lock()
			if ch, ok := s.pending[result.RequestID]; ok {
				delete(s.pending, result.RequestID)
				ch <- result
				close(ch)
			}
			s.mu.Unlock()
		}
	}
}

// applyUpdate advances the local mirror. Full snapshots replace it;
// incremental updates patch it in place.
func (s *stream) applyUpdate(update protocol.StateUpdate) {
	data, ok := update.Data.(map[string]any)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Incremental {
		store.ApplyPatchTo(s.fields, store.Patch(data))
	} else {
		s.fields = make(map[string]any, len(data))
		for k, v := range data {
			s.fields[k] = v
		}
	}
	s.version = update.Version
}

func (s *stream) mirror() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	return StateSnapshot{Fields: fields, Version: s.version}
}

func (s *stream) send(kind string, payload any) error {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(env)
}

// execute sends a command request and blocks until the daemon reports the
// outcome or ctx expires.
func (s *stream) execute(ctx context.Context, command string) error {
	requestID := ulid.Make().String()
	ch := make(chan protocol.CommandResult, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	s.pending[requestID] = ch
	s.mu.Unlock()

	err := s.send(protocol.KindCommandRequest, protocol.CommandRequest{
		RequestID: requestID,
		Command:   command,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		return err
	}

	select {
	case result, ok := <-ch:
		if !ok {
			return fmt.Errorf("connection closed")
		}
		if !result.Success {
			return fmt.Errorf("command %q: %s", command, result.Error)
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *stream) setPreferences(prefs protocol.Preferences) error {
	return s.send(protocol.KindSetPreferences, prefs)
}

func (s *stream) close() error {
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	return err
}
