package cli

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/relay/version"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates a standard version command for a relay binary.
func NewVersionCommand(componentName string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Print the version number of %s", componentName),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("%s %s\n", componentName, info.Version)
			fmt.Println(info.String())
			return nil
		},
	}
}
