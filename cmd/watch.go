package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grovetools/relay/cli"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/spf13/cobra"
)

// NewWatchCmd returns the live state streaming command.
func NewWatchCmd() *cobra.Command {
	var (
		incremental bool
		intervalMs  int
		fields      string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream state updates from the daemon",
		Long:  "Connect to the daemon and print each state update as a JSON line until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs := protocol.Preferences{
				Incremental:         incremental,
				MinUpdateIntervalMs: intervalMs,
			}
			if fields != "" {
				prefs.FieldFilters = strings.Split(fields, ",")
			}

			c := newStreamClient(cmd, prefs)
			if err := c.Connect(cmd.Context()); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer c.Close()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case update, ok := <-c.Updates():
					if !ok {
						return fmt.Errorf("connection to daemon lost")
					}
					if err := enc.Encode(update); err != nil {
						return err
					}
				case <-stop:
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", true, "Receive diffs instead of full snapshots")
	cmd.Flags().IntVar(&intervalMs, "interval", 0, "Minimum milliseconds between updates (0 uses the daemon default)")
	cmd.Flags().StringVar(&fields, "fields", "", "Comma-separated field path filters, e.g. editor.*,git.branch")
	return cmd
}
