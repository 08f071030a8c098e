package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/relay/cli"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/spf13/cobra"
)

// NewExecCmd returns the remote command execution command.
func NewExecCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Execute an allowlisted command through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := cli.NewErrorHandler(false)

			c := newStreamClient(cmd, protocol.Preferences{})
			if err := c.Connect(cmd.Context()); err != nil {
				return handler.Handle(err)
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := c.Execute(ctx, args[0]); err != nil {
				return handler.Handle(err)
			}

			fmt.Printf("Executed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the command result")
	return cmd
}
