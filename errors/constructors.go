package errors

import (
	"fmt"
)

// InvalidPatch creates an invalid patch error for a malformed field path
func InvalidPatch(path string, reason string) *RelayError {
	return New(ErrCodeInvalidPatch, fmt.Sprintf("invalid patch at %q: %s", path, reason)).
		WithDetail("path", path)
}

// CapacityExceeded creates a capacity exceeded error
func CapacityExceeded(max int) *RelayError {
	return New(ErrCodeCapacityExceeded,
		fmt.Sprintf("connection limit of %d sessions reached", max)).
		WithDetail("maxConnections", max)
}

// SessionNotFound creates a session not found error
func SessionNotFound(id string) *RelayError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", id)).
		WithDetail("sessionId", id)
}

// TransportClosed creates a transport closed error
func TransportClosed(id string, err error) *RelayError {
	return Wrap(err, ErrCodeTransportClosed, fmt.Sprintf("transport for session '%s' is closed", id)).
		WithDetail("sessionId", id)
}

// CommandFailed creates a command execution failure error
func CommandFailed(cmd string, err error) *RelayError {
	return Wrap(err, ErrCodeCommandFailed, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *RelayError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *RelayError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}
