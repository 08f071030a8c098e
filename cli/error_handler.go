package cli

import (
	"fmt"
	"os"

	"github.com/grovetools/relay/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "❌ Configuration not found. Create relay.toml or set RELAY_HOME.\n")
		return err

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		return err

	case errors.ErrCodeCapacityExceeded:
		fmt.Fprintf(os.Stderr, "❌ The daemon is at its connection limit\n")
		fmt.Fprintf(os.Stderr, "Raise max_connections in relay.toml or disconnect idle clients.\n")
		return err

	case errors.ErrCodeCommandNotAllowed:
		if relayErr, ok := err.(*errors.RelayError); ok {
			fmt.Fprintf(os.Stderr, "❌ Command '%s' is not in the allowlist\n", relayErr.Details["command"])
			fmt.Fprintf(os.Stderr, "Run 'relay commands' to see what is allowed.\n")
		}
		return err

	case errors.ErrCodeCommandFailed:
		fmt.Fprintf(os.Stderr, "❌ Command execution failed: %v\n", err)
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)

		if h.Verbose {
			if relayErr, ok := err.(*errors.RelayError); ok {
				fmt.Fprintf(os.Stderr, "\nError details:\n%s\n", relayErr.ToJSON())
			}
		}
		return err
	}
}
