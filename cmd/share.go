package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/screenlink/internal/config"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/session"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/spf13/cobra"
)

// CreateShareCmd creates the share command.
func CreateShareCmd() *cobra.Command {
	var req session.Request

	cmd := &cobra.Command{
		Use:   "share [source-id]",
		Short: "Share one source without the control API",
		Long: `Runs a single session for the given source until interrupted or until the session fails. ` +
			`Transport, encoder and degradation settings come from the same flags, environment and config file as the server.`,
		Args: cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *config.Options) {
			logger := logging.GetLogger("session").With("source", args[0])

			tuning, err := config.LoadTuning(opts.Config)
			if err != nil {
				logger.Error("Invalid tuning tables", "config", opts.Config, "error", err)
				os.Exit(1)
			}
			cfg, err := opts.SessionConfig(tuning)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			bus := events.New()
			defer bus.Subscribe(func(e events.StateChangedEvent) {
				logger.Info("Session state changed", "from", e.From, "to", e.To, "reason", e.Reason)
			})()
			defer bus.Subscribe(func(e events.QualityChangedEvent) {
				logger.Info("Quality changed", "from", e.From, "to", e.To,
					"width", e.Width, "height", e.Height, "bitrate_kbps", e.BitrateKbps)
			})()
			defer bus.Subscribe(func(e events.BackendFallbackEvent) {
				logger.Warn("Encoder fell back to software", "requested", e.Requested, "reason", e.Reason, "live", e.LiveSwap)
			})()

			catalog := sources.NewCatalog(sources.WithDisplay(opts.CaptureDisplay))
			sv, err := session.NewSupervisor(cfg, catalog, session.WithEventBus(bus))
			if err != nil {
				logger.Error("Invalid session configuration", "error", err)
				os.Exit(1)
			}

			req.SourceID = args[0]
			st, err := sv.Start(cmd.Context(), req)
			if err != nil {
				logger.Error("Failed to start session", "code", session.CodeOf(err), "error", err)
				os.Exit(1)
			}
			logger.Info("Sharing", "session_id", st.SessionID, "router", cfg.Transport.RemoteAddr,
				"fps", st.FPS, "bitrate_kbps", st.BitrateKbps)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)

			select {
			case sig := <-sigs:
				logger.Info("Received signal, stopping", "signal", sig)
			case <-sv.Current().Done():
			}

			final := sv.Stop()
			logger.Info("Session ended", "state", final.State,
				"frames_encoded", final.FramesEncoded, "keyframe_requests", final.KeyframeRequests)
			if final.State == session.StateFailed {
				logger.Error("Session failed", "code", final.Code, "reason", final.Reason)
				os.Exit(1)
			}
		}),
	}

	cmd.Flags().IntVar(&req.FPS, "fps", 0, "Frame rate (defaults to session.fps)")
	cmd.Flags().IntVar(&req.BitrateKbps, "bitrate", 0, "Bitrate in kbps (defaults to session.bitrate_kbps)")
	cmd.Flags().IntVar(&req.Width, "width", 0, "Output width, requires --height")
	cmd.Flags().IntVar(&req.Height, "height", 0, "Output height, requires --width")
	cmd.Flags().StringVar(&req.Backend, "backend", "", "Encoder backend (auto, hardware, software)")
	return cmd
}
