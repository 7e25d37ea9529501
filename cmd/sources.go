package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/screenlink/internal/config"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/spf13/cobra"
)

// CreateSourcesCmd creates the sources command.
func CreateSourcesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List shareable monitors, windows and applications",
		Run: humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *config.Options) {
			logger := logging.GetLogger("sources")
			catalog := sources.NewCatalog(sources.WithDisplay(opts.CaptureDisplay))

			list, err := catalog.List(cmd.Context(), true)
			if err != nil {
				logger.Error("Failed to enumerate sources", "display", opts.CaptureDisplay, "error", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(list); err != nil {
					logger.Error("Failed to encode sources", "error", err)
					os.Exit(1)
				}
				return
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSIZE\tTITLE")
			for _, s := range list {
				size := "-"
				if s.Width > 0 && s.Height > 0 {
					size = fmt.Sprintf("%dx%d", s.Width, s.Height)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Kind, size, s.Title)
			}
			_ = w.Flush()
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}
