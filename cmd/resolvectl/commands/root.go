package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dgnsrekt/captcha_resolver/internal/config"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/spf13/cobra"
)

var markersFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resolvectl",
		Short:         "resolvectl runs and inspects anti-bot artifact extractions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&markersFile, "markers", os.Getenv("RESOLVER_MARKERS_FILE"), "YAML file overriding the default page markers.")
	root.AddCommand(newExtractCmd(), newHarvestCmd(), newProbeCmd())
	return root
}

func ExecuteContext(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadMarkers() (extract.Markers, error) {
	if markersFile == "" {
		return extract.DefaultMarkers(), nil
	}
	return config.LoadMarkers(markersFile)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
