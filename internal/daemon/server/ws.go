package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// wsTransport adapts one websocket connection to the registry's Transport.
// Writes are serialized and deadline-bounded so a stalled peer surfaces as a
// send error instead of blocking the broadcaster.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (t *wsTransport) send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) SendStateUpdate(update protocol.StateUpdate) error {
	env, err := protocol.NewEnvelope(protocol.KindStateUpdate, update)
	if err != nil {
		return err
	}
	return t.send(env)
}

func (t *wsTransport) SendCommandResult(result protocol.CommandResult) error {
	env, err := protocol.NewEnvelope(protocol.KindCommandResult, result)
	if err != nil {
		return err
	}
	return t.send(env)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// handleWebSocket upgrades the connection, registers a session with the
// preferences declared in the query string, triggers the initial full sync,
// and then serves the client's inbound messages until disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser client
			}
			return s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	transport := &wsTransport{conn: conn, writeTimeout: s.cfg.WriteTimeout()}
	prefs := preferencesFromQuery(r)

	sess, err := s.sessions.Register(transport, prefs)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	// Connection always triggers one immediate full-state send.
	s.bcast.Attach(sess)

	s.readLoop(sess, transport, conn)
}

// readLoop serves client messages until the connection drops, then tears the
// session down.
func (s *Server) readLoop(sess *registry.Session, transport *wsTransport, conn *websocket.Conn) {
	defer func() {
		s.sessions.Unregister(sess.ID)
		_ = conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithField("session", sess.ID).WithError(err).Debug("Connection closed")
			}
			return
		}

		switch env.Kind {
		case protocol.KindCommandRequest:
			var req protocol.CommandRequest
			if err := env.DecodePayload(&req); err != nil {
				s.logger.WithField("session", sess.ID).WithError(err).Warn("Bad command request")
				continue
			}
			// Command execution may be long-running; it must not stall the
			// read loop or state delivery.
			go func() {
				result := s.gateway.Execute(context.Background(), req.Command)
				err := transport.SendCommandResult(protocol.CommandResult{
					RequestID: req.RequestID,
					Success:   result.Success,
					Error:     result.Error,
				})
				if err != nil {
					s.logger.WithField("session", sess.ID).WithError(err).Debug("Failed to send command result")
				}
			}()

		case protocol.KindSetPreferences:
			prefs, err := decodePreferences(env.Payload)
			if err != nil {
				s.logger.WithField("session", sess.ID).WithError(err).Warn("Bad preferences")
				continue
			}
			sess.SetPreferences(registry.FromProtocol(prefs))
			s.logger.WithFields(logrus.Fields{
				"session":     sess.ID,
				"incremental": prefs.Incremental,
			}).Debug("Preferences updated")

		default:
			s.logger.WithFields(logrus.Fields{
				"session": sess.ID,
				"kind":    env.Kind,
			}).Warn("Unknown message kind")
		}
	}
}

// decodePreferences decodes a setPreferences payload. The payload travels as
// a loose JSON object; mapstructure folds it into the typed form so unknown
// fields from newer clients are tolerated.
func decodePreferences(payload json.RawMessage) (protocol.Preferences, error) {
	var loose map[string]any
	if err := json.Unmarshal(payload, &loose); err != nil {
		return protocol.Preferences{}, err
	}

	var prefs protocol.Preferences
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &prefs,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return protocol.Preferences{}, err
	}
	if err := decoder.Decode(loose); err != nil {
		return protocol.Preferences{}, err
	}
	return prefs, nil
}

// preferencesFromQuery reads the connect-time preferences from the upgrade
// request's query string.
func preferencesFromQuery(r *http.Request) registry.Preferences {
	q := r.URL.Query()

	prefs := protocol.Preferences{}
	if v := q.Get("incremental"); v != "" {
		prefs.Incremental, _ = strconv.ParseBool(v)
	}
	if v := q.Get("minUpdateIntervalMs"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			prefs.MinUpdateIntervalMs = ms
		}
	}
	if v := q.Get("fields"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				prefs.FieldFilters = append(prefs.FieldFilters, f)
			}
		}
	}
	return registry.FromProtocol(prefs)
}
