// Package protocol defines the JSON wire messages exchanged between the
// relay daemon and its clients over the WebSocket transport.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds. Server→client: stateUpdate, commandResult.
// Client→server: commandRequest, setPreferences.
const (
	KindStateUpdate    = "stateUpdate"
	KindCommandResult  = "commandResult"
	KindCommandRequest = "commandRequest"
	KindSetPreferences = "setPreferences"
)

// Envelope is the outer frame for every message on the wire.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// StateUpdate carries either a full snapshot (Incremental=false, Data is the
// complete field map) or a diff (Incremental=true, Data is a patch of dotted
// field paths). Version is the state version the payload brings the client to.
type StateUpdate struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Incremental bool      `json:"incremental"`
	Version     uint64    `json:"version"`
	Data        any       `json:"data"`
}

// CommandResult reports the outcome of a command request, correlated by
// RequestID. Error is set iff Success is false.
type CommandResult struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// CommandRequest asks the daemon to execute an allowlisted command.
type CommandRequest struct {
	RequestID string `json:"requestId"`
	Command   string `json:"command"`
}

// Preferences is the client-declared delivery contract. Sent at connect time
// as query parameters or afterwards in a setPreferences message.
type Preferences struct {
	Incremental         bool     `json:"incremental" mapstructure:"incremental"`
	MinUpdateIntervalMs int      `json:"minUpdateIntervalMs" mapstructure:"minUpdateIntervalMs"`
	FieldFilters        []string `json:"fieldFilters,omitempty" mapstructure:"fieldFilters"`
}

// NewEnvelope wraps a payload into an envelope of the given kind.
func NewEnvelope(kind string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
