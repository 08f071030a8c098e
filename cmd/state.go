package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/grovetools/relay/cli"
	"github.com/spf13/cobra"
)

// NewStateCmd returns the state inspection and mutation command.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and modify the daemon's workspace state",
	}

	cmd.AddCommand(newStateGetCmd())
	cmd.AddCommand(newStateSetCmd())
	cmd.AddCommand(newStateResyncCmd())

	return cmd
}

func newStateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(cmd)

			snap, err := c.State(cmd.Context())
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}

			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newStateSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path=value>...",
		Short: "Apply field changes to the workspace state",
		Long: `Apply one or more field changes, given as dotted.path=value pairs.
Values are parsed as JSON where possible, otherwise taken as strings.
A bare "dotted.path=" deletes the field.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := make(map[string]any, len(args))
			for _, arg := range args {
				path, raw, found := strings.Cut(arg, "=")
				if !found || path == "" {
					return fmt.Errorf("invalid field change %q, expected path=value", arg)
				}
				patch[path] = parseValue(raw)
			}

			c := newAPIClient(cmd)
			version, err := c.ApplyPatch(cmd.Context(), patch)
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}

			fmt.Printf("Applied %d change(s), state is now at version %d\n", len(patch), version)
			return nil
		},
	}
}

func newStateResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Push a full snapshot to every connected client",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(cmd)
			if err := c.Resync(cmd.Context()); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			fmt.Println("Resync requested")
			return nil
		},
	}
}

// parseValue interprets a command-line value: empty deletes, JSON literals
// decode as themselves, anything else is a string.
func parseValue(raw string) any {
	if raw == "" {
		return nil
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}
