package commands

import (
	"os"

	"github.com/dgnsrekt/captcha_resolver/internal/browser"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var cdpURL string
	cmd := &cobra.Command{
		Use:   "probe [--cdp-url <endpoint>]",
		Short: "Checks that a DevTools endpoint answers protocol commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := browser.Probe(cmd.Context(), cdpURL)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
	def := os.Getenv("RESOLVER_REMOTE_CDP_URL")
	if def == "" {
		def = "http://127.0.0.1:9222"
	}
	cmd.Flags().StringVar(&cdpURL, "cdp-url", def, "DevTools HTTP base or browser WebSocket URL.")
	return cmd
}
