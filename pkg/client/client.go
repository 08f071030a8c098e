// Package client provides a Go client for the relay daemon. It wraps the
// HTTP API for one-shot queries and the WebSocket stream for a continuously
// synchronized local mirror of the workspace state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/grovetools/relay/pkg/protocol"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the daemon's HTTP API address, e.g. "http://localhost:7420".
	BaseURL string

	// StreamURL is the WebSocket endpoint, e.g. "ws://localhost:7421/ws".
	// Empty disables streaming.
	StreamURL string

	// Preferences are declared at connect time and can be changed later with
	// SetPreferences.
	Preferences protocol.Preferences

	// RequestTimeout bounds one-shot HTTP calls. Zero means 10 seconds.
	RequestTimeout time.Duration
}

// Client talks to a running relay daemon.
type Client struct {
	httpClient *http.Client
	baseURL    string
	stream     *stream
}

// New creates a client. It does not contact the daemon; use IsRunning or
// Connect for that.
func New(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    opts.BaseURL,
	}
	if opts.StreamURL != "" {
		c.stream = newStream(opts.StreamURL, opts.Preferences)
	}
	return c
}

// IsRunning returns true if the daemon responds to a health check.
func (c *Client) IsRunning() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StateSnapshot is the daemon's state at a specific version.
type StateSnapshot struct {
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
}

// State fetches the current snapshot over HTTP.
func (c *Client) State(ctx context.Context) (StateSnapshot, error) {
	var snap StateSnapshot
	if err := c.getJSON(ctx, "/api/state", &snap); err != nil {
		return StateSnapshot{}, err
	}
	return snap, nil
}

// ApplyPatch submits a patch of dotted field paths and returns the resulting
// state version. A nil field value deletes the field.
func (c *Client) ApplyPatch(ctx context.Context, patch map[string]any) (uint64, error) {
	body, err := json.Marshal(map[string]any{"patch": patch})
	if err != nil {
		return 0, fmt.Errorf("marshal patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/state", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to apply patch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var result struct {
		Version uint64 `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Version, nil
}

// CommandGroup is a namespace of allowlisted commands.
type CommandGroup struct {
	Namespace string   `json:"namespace"`
	Commands  []string `json:"commands"`
}

// Commands returns the daemon's command allowlist.
func (c *Client) Commands(ctx context.Context) ([]string, []CommandGroup, error) {
	var payload struct {
		Commands []string       `json:"commands"`
		Groups   []CommandGroup `json:"groups"`
	}
	if err := c.getJSON(ctx, "/api/commands", &payload); err != nil {
		return nil, nil, err
	}
	return payload.Commands, payload.Groups, nil
}

// SessionInfo describes one connected session as reported by the daemon.
type SessionInfo struct {
	ID                   string               `json:"id"`
	ConnectedAt          time.Time            `json:"connectedAt"`
	LastDeliveredVersion uint64               `json:"lastDeliveredVersion"`
	IncrementalUpdates   int                  `json:"incrementalUpdates"`
	Preferences          protocol.Preferences `json:"preferences"`
}

// Sessions returns the daemon's active sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var payload struct {
		Count    int           `json:"count"`
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.getJSON(ctx, "/api/sessions", &payload); err != nil {
		return nil, err
	}
	return payload.Sessions, nil
}

// Resync asks the daemon to push a full snapshot to every connected session.
func (c *Client) Resync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/resync", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request resync: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return nil
}

// Connect dials the WebSocket endpoint and starts the background read loop.
// Updates flow into the local mirror and out of Updates until Close is
// called or the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	if c.stream == nil {
		return fmt.Errorf("no stream URL configured")
	}
	return c.stream.connect(ctx)
}

// Updates returns the channel of state updates received over the stream.
// The channel closes when the connection ends.
func (c *Client) Updates() <-chan protocol.StateUpdate {
	if c.stream == nil {
		return nil
	}
	return c.stream.updates
}

// Mirror returns a copy of the locally mirrored state and the version it
// reflects. The mirror is empty until the initial sync arrives.
func (c *Client) Mirror() StateSnapshot {
	if c.stream == nil {
		return StateSnapshot{}
	}
	return c.stream.mirror()
}

// Execute sends a command request over the stream and waits for the
// correlated result.
func (c *Client) Execute(ctx context.Context, command string) error {
	if c.stream == nil {
		return fmt.Errorf("no stream URL configured")
	}
	return c.stream.execute(ctx, command)
}

// SetPreferences updates the delivery preferences for the streaming session.
func (c *Client) SetPreferences(prefs protocol.Preferences) error {
	if c.stream == nil {
		return fmt.Errorf("no stream URL configured")
	}
	return c.stream.setPreferences(prefs)
}

// Close tears down the stream connection, if any.
func (c *Client) Close() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.close()
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
