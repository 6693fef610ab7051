package commands

import (
	"fmt"
	"os"

	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/spf13/cobra"
)

func newHarvestCmd() *cobra.Command {
	var (
		htmlPath   string
		requestURL string
	)
	cmd := &cobra.Command{
		Use:   "harvest --html <page.html> [--url <url>]",
		Short: "Harvests fields from saved markup without a browser.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			markers, err := loadMarkers()
			if err != nil {
				return err
			}

			f, err := os.Open(htmlPath)
			if err != nil {
				return fmt.Errorf("open markup: %w", err)
			}
			defer f.Close()

			page, err := extract.NewHTMLPage(f)
			if err != nil {
				return err
			}
			fields, _ := extract.Harvest(cmd.Context(), page, requestURL, markers)
			return printJSON(cmd.OutOrStdout(), fields)
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "Saved page markup.")
	cmd.Flags().StringVar(&requestURL, "url", "", "URL the markup was loaded from, used for the download id fallback.")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}
