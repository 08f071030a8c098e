package main

import (
	"os"

	"github.com/grovetools/relay/cli"
	"github.com/grovetools/relay/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"relay",
		"Real-time workspace state synchronization daemon and client",
	)

	rootCmd.AddCommand(cmd.NewDaemonCmd())
	rootCmd.AddCommand(cmd.NewStateCmd())
	rootCmd.AddCommand(cmd.NewSessionsCmd())
	rootCmd.AddCommand(cmd.NewCommandsCmd())
	rootCmd.AddCommand(cmd.NewExecCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cli.NewVersionCommand("relay"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
