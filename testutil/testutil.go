// Package testutil provides shared helpers and test doubles.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/grovetools/relay/pkg/protocol"
)

// RandomString generates a random hex string of the specified length.
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}

// RecordingTransport is a registry.Transport double that records everything
// sent through it. It can be configured to fail or stall sends.
type RecordingTransport struct {
	// SendErr, when set, is returned from every send.
	SendErr error
	// SendDelay, when set, makes every send sleep first.
	SendDelay time.Duration

	mu      sync.Mutex
	updates []protocol.StateUpdate
	results []protocol.CommandResult
	closed  bool
}

func (t *RecordingTransport) SendStateUpdate(update protocol.StateUpdate) error {
	if t.SendDelay > 0 {
		time.Sleep(t.SendDelay)
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, update)
	return nil
}

func (t *RecordingTransport) SendCommandResult(result protocol.CommandResult) error {
	if t.SendErr != nil {
		return t.SendErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, result)
	return nil
}

func (t *RecordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Updates returns a copy of the recorded state updates.
func (t *RecordingTransport) Updates() []protocol.StateUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.StateUpdate, len(t.updates))
	copy(out, t.updates)
	return out
}

// Results returns a copy of the recorded command results.
func (t *RecordingTransport) Results() []protocol.CommandResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.CommandResult, len(t.results))
	copy(out, t.results)
	return out
}

// Closed reports whether Close has been called.
func (t *RecordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// WaitForUpdates blocks until at least n state updates have been recorded or
// the timeout elapses. Returns true when n were seen.
func (t *RecordingTransport) WaitForUpdates(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		count := len(t.updates)
		t.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// CountingRunner is a gateway command runner double with a call counter.
type CountingRunner struct {
	// Err, when set, is returned from every run.
	Err error
	// Panic, when set, makes every run panic with this value.
	Panic any

	mu       sync.Mutex
	calls    int
	commands []string
}

func (r *CountingRunner) Run(ctx context.Context, command string) error {
	r.mu.Lock()
	r.calls++
	r.commands = append(r.commands, command)
	r.mu.Unlock()

	if r.Panic != nil {
		panic(r.Panic)
	}
	return r.Err
}

// Calls returns the number of times Run was invoked.
func (r *CountingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Commands returns a copy of the commands passed to Run, in order.
func (r *CountingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}
