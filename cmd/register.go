package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/winerank-crawler/internal/app"
)

// newRegisterCmd creates the 'register-wine-list' subcommand.
func newRegisterCmd() *cobra.Command {
	req := app.RegisterRequest{}
	cmd := &cobra.Command{
		Use:   "register-wine-list",
		Short: "Records a manually found wine list URL on an entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entity, err := a.RegisterWineList(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("register-wine-list: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s %s\n", entity.Name, entity.ID, entity.CrawlStatus, entity.ArtifactURL)
			if entity.TextURI != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  text: %s\n", entity.TextURI)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Entity, "entity", "", "entity ID or name")
	cmd.Flags().StringVar(&req.URL, "url", "", "wine list URL")
	cmd.Flags().BoolVar(&req.Download, "download", false, "download and extract the wine list now")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
