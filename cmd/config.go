package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/relay/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the relay configuration",
		Long: `Inspect and edit the relay configuration file.

Environment variables (OPENROUTER_API_KEY, RELAY_ADDR, ...) and a .env file
in the working directory override the file.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(configPath(cmd))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set one field in the config file",
		Example: "  relay config set worker.workers 8\n  relay config set llm.backend openai",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetFileField(configPath(cmd), args[0], config.ParseValue(args[1])); err != nil {
				return err
			}
			if _, err := config.LoadFromFile(configPath(cmd)); err != nil {
				return fmt.Errorf("config no longer loads after setting %s: %w", args[0], err)
			}
			return nil
		},
	})
	return cmd
}

func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" { //nolint:errcheck // persistent flag
		return path
	}
	return config.GlobalConfigPath()
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = "********"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.SaveToFile(config.Default(), path); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}
