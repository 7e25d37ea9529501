package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/screenlink/cmd"
	"github.com/smazurov/screenlink/internal/api"
	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/config"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/metrics"
	"github.com/smazurov/screenlink/internal/session"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/smazurov/screenlink/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	var root *cobra.Command

	cli := humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:   opts.LoggingLevel,
			Format:  opts.LoggingFormat,
			Modules: opts.LoggingModules(),
		})
		logger := logging.GetLogger("main")

		tuning, err := config.LoadTuning(opts.Config)
		if err != nil {
			logger.Error("Invalid tuning tables", "config", opts.Config, "error", err)
			os.Exit(1)
		}
		sessionCfg, err := opts.SessionConfig(tuning)
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		eventBus := events.New()
		catalog := sources.NewCatalog(sources.WithDisplay(opts.CaptureDisplay))

		supervisor, err := session.NewSupervisor(sessionCfg, catalog, session.WithEventBus(eventBus))
		if err != nil {
			logger.Error("Invalid session configuration", "error", err)
			os.Exit(1)
		}

		// Session defaults follow the config file without a restart.
		watcher := config.NewConfigWatcher(
			opts.Config,
			config.LoadSessionDefaults(opts.Defaults()),
			logging.GetLogger("config"),
		)
		watcher.OnReload(func(d session.Defaults) {
			supervisor.SetDefaults(d)
			logger.Info("Session defaults reloaded", "fps", d.FPS, "bitrate_kbps", d.BitrateKbps, "backend", d.Backend)
		})

		// Rockchip kernels expose MPP engine load; elsewhere the collector stays off.
		hwLoad := metrics.NewLoadCollector("", 0)

		captureOpts := sessionCfg.Capture
		server := api.NewServer(&api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Version:      version.Version,
			Supervisor:   supervisor,
			Catalog:      catalog,
			Thumbnail: func(ctx context.Context, src sources.Source, maxWidth int) ([]byte, error) {
				return capture.Snapshot(ctx, src, captureOpts, maxWidth)
			},
			EventBus: eventBus,
			Encoders: api.EncoderInfo{
				Family:     opts.EncoderFamily,
				ReportPath: opts.EncoderProbeReport,
				Load:       hwLoad.Latest,
			},
		})

		hooks.OnStart(func() {
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Config watcher disabled", "config", opts.Config, "error", startErr)
			}

			if hwLoad.Available() {
				if startErr := hwLoad.Start(context.Background()); startErr != nil {
					logger.Warn("Hardware load sampling disabled", "error", startErr)
				}
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("systemd notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "router", sessionCfg.Transport.RemoteAddr)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop the session after the API stops accepting new starts.
			final := supervisor.Stop()
			if final.SessionID != "" {
				logger.Info("Session stopped", "session_id", final.SessionID, "state", final.State)
			}

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			hwLoad.Stop()
		})
	})
	root = cli.Root()
	root.Version = version.Version
	root.SetVersionTemplate("screenlink " + version.Get().String() + "\n")

	root.AddCommand(cmd.CreateSourcesCmd())
	root.AddCommand(cmd.CreateShareCmd())
	root.AddCommand(cmd.CreateProbeEncodersCmd())
	root.AddCommand(cmd.CreateReceiveCmd())

	// Run the CLI
	cli.Run()
}
