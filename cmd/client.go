package cmd

import (
	"fmt"

	"github.com/grovetools/relay/cli"
	"github.com/grovetools/relay/config"
	"github.com/grovetools/relay/pkg/client"
	"github.com/grovetools/relay/pkg/protocol"
	"github.com/spf13/cobra"
)

// daemonAddresses resolves the daemon's endpoints from flags and config.
func daemonAddresses(cmd *cobra.Command) (string, string) {
	cfg, err := config.Load(cli.ResolveConfigFile(cmd))
	if err != nil {
		cfg = config.Default()
	}

	host := "localhost"
	baseURL := fmt.Sprintf("http://%s:%d", host, cfg.HTTPPort)
	streamURL := fmt.Sprintf("ws://%s:%d/ws", host, cfg.ResolvedWebSocketPort())
	return baseURL, streamURL
}

// newAPIClient builds a client for one-shot HTTP calls.
func newAPIClient(cmd *cobra.Command) *client.Client {
	baseURL, _ := daemonAddresses(cmd)
	return client.New(client.Options{BaseURL: baseURL})
}

// newStreamClient builds a client with the WebSocket stream configured.
func newStreamClient(cmd *cobra.Command, prefs protocol.Preferences) *client.Client {
	baseURL, streamURL := daemonAddresses(cmd)
	return client.New(client.Options{
		BaseURL:     baseURL,
		StreamURL:   streamURL,
		Preferences: prefs,
	})
}
