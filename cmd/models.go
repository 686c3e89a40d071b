package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/relay/internal/catalog"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the server",
		Long: `List the model ids a relay server offers.

With --refresh the list is built locally instead: the configured models plus
the OpenRouter entries of the catwalk catalog, which are cached for the
server to pick up.`,
		Args: cobra.NoArgs,
		RunE: runModels,
	}
	cmd.Flags().Bool("refresh", false, "Refresh the local catalog from catwalk")
	return cmd
}

func runModels(cmd *cobra.Command, _ []string) error {
	refresh, _ := cmd.Flags().GetBool("refresh") //nolint:errcheck // flag is registered
	if !refresh {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		models, err := c.Models(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}
		for _, m := range models {
			cmd.Println(m)
		}
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Catalog.CatwalkURL == "" {
		return fmt.Errorf("catalog.catwalk_url is not set; try: relay config set catalog.catwalk_url <url>")
	}
	models := catalog.New(cfg.Catalog.Models,
		catalog.WithCatwalkURL(cfg.Catalog.CatwalkURL),
		catalog.WithCacheDir(cfg.DataDir()),
	)
	if err := models.Refresh(); err != nil {
		return fmt.Errorf("refreshing catalog: %w", err)
	}
	for _, m := range models.Models() {
		cmd.Println(m)
	}
	return nil
}
