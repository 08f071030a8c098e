package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grovetools/relay/cli"
	"github.com/spf13/cobra"
)

// NewCommandsCmd returns the allowlist listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the commands the daemon will execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(cmd)

			commands, groups, err := c.Commands(cmd.Context())
			if err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"commands": commands,
					"groups":   groups,
				})
			}

			for _, group := range groups {
				fmt.Printf("%s\n", group.Namespace)
				for _, command := range group.Commands {
					fmt.Printf("  %s\n", command)
				}
			}
			fmt.Printf("\n%d command(s) allowed\n", len(commands))
			return nil
		},
	}
}
