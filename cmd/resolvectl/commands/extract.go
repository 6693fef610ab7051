package commands

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/browser"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/spf13/cobra"
)

func newExtractCmd() *cobra.Command {
	var (
		wait          int
		headful       bool
		navTimeout    time.Duration
		browserPath   string
		remoteCDPURL  string
		includeMarkup bool
	)
	cmd := &cobra.Command{
		Use:   "extract <url> [--wait 12] [--headful] [--nav-timeout 120s]",
		Short: "Runs one live extraction and prints the result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait < 0 {
				return fmt.Errorf("--wait must be >= 0")
			}
			markers, err := loadMarkers()
			if err != nil {
				return err
			}

			launcher := browser.NewLauncher(browser.Config{
				BrowserPath:  browserPath,
				RemoteCDPURL: remoteCDPURL,
			})
			engine := extract.NewEngine(launcher, extract.Options{
				NavigationTimeout: navTimeout,
				Markers:           markers,
			})

			req := extract.NewRequest(args[0])
			req.Wait = time.Duration(wait) * time.Second
			req.Headful = headful
			req.IncludeMarkup = includeMarkup

			res, err := engine.Extract(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&wait, "wait", int(extract.DefaultWait/time.Second), "Settle time after navigation, in seconds.")
	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window.")
	cmd.Flags().DurationVar(&navTimeout, "nav-timeout", extract.DefaultNavigationTimeout, "Upper bound for page load and network idle.")
	cmd.Flags().StringVar(&browserPath, "browser", "", "Browser binary. Detected on PATH when empty.")
	cmd.Flags().StringVar(&remoteCDPURL, "cdp-url", "", "Attach to a running browser instead of launching one.")
	cmd.Flags().BoolVar(&includeMarkup, "markup", false, "Include the final page markup in the output.")
	return cmd
}
