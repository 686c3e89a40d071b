// Package cmd provides the CLI commands for relay.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/relay/internal/client"
	"github.com/guilhermegouw/relay/internal/config"
)

// Version is set at build time with -ldflags "-X github.com/guilhermegouw/relay/cmd.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Chat backend that relays messages to hosted language models",
		Long: `Relay stores chat sessions in SQLite, sends each new user message to a
language model through OpenRouter in the background, and delivers the reply
to a waiting client over a websocket or by polling.

Run "relay serve" to start the server, then "relay send" to chat from the
terminal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file (default "+config.GlobalConfigPath()+")")
	cmd.PersistentFlags().String("url", "", "Server URL for client commands (default from config)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("relay " + Version)
		},
	}
}

// loadConfig reads the config file named by --config, or the global one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("getting config flag: %w", err)
	}
	if path == "" {
		path = config.GlobalConfigPath()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newClient builds a REST client for --url or the configured server URL.
func newClient(cmd *cobra.Command) (*client.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	url, err := cmd.Flags().GetString("url")
	if err != nil {
		return nil, nil, fmt.Errorf("getting url flag: %w", err)
	}
	if url == "" {
		url = cfg.Server.URL
	}
	return client.New(url), cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
