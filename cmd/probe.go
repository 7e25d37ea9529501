package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/screenlink/internal/config"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/spf13/cobra"
)

// CreateProbeEncodersCmd creates the probe-encoders command.
func CreateProbeEncodersCmd() *cobra.Command {
	var output string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "probe-encoders",
		Short: "Probe hardware H.264 encoders",
		Long: `Tests every hardware H.264 encoder family (vaapi, nvenc, qsv, rkmpp, v4l2m2m) by encoding ` +
			`a short synthetic clip, and writes the working ones to a report that sessions read at start.`,
		Run: humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *config.Options) {
			logger := logging.GetLogger("encoder")
			if quiet {
				logging.SetLevel("encoder", "warn")
			}
			if output == "" {
				output = opts.EncoderProbeReport
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			report, err := encoder.Probe(ctx, encoder.HardwareFamilies())
			if err != nil {
				logger.Error("Encoder probe failed", "error", err)
				os.Exit(1)
			}
			if err := encoder.SaveReport(output, report); err != nil {
				logger.Error("Failed to save probe report", "output", output, "error", err)
				os.Exit(1)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ffmpeg %s\n", report.FFmpegVersion)
			for _, res := range report.Results {
				mark := "no "
				if res.Working {
					mark = "yes"
				}
				fmt.Fprintf(w, "  %-8s %-14s %s", res.Family, res.Encoder, mark)
				if res.Error != "" {
					fmt.Fprintf(w, "  (%s)", res.Error)
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%d of %d families working, report written to %s\n",
				len(report.Working()), len(report.Results), output)
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Report file (defaults to encoder.probe_report)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-family progress logs")
	return cmd
}
