package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/grovetools/relay/cli"
	"github.com/spf13/cobra"
)

// NewSessionsCmd returns the session listing command.
func NewSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List connected client sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(cmd)

			sessions, err := c.Sessions(cmd.Context())
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No connected sessions")
				return nil
			}

			for _, sess := range sessions {
				mode := "full"
				if sess.Preferences.Incremental {
					mode = "incremental"
				}
				fmt.Printf("%s  connected %s  mode=%s  version=%d  diffs=%d\n",
					sess.ID,
					time.Since(sess.ConnectedAt).Round(time.Second),
					mode,
					sess.LastDeliveredVersion,
					sess.IncrementalUpdates,
				)
			}
			return nil
		},
	}
}
