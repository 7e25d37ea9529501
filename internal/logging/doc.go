// Package logging provides per-module slog loggers.
//
// Every module gets its own *slog.Logger carrying a "module" attribute and an
// independent level that can be changed at runtime:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"transport": "debug",
//		},
//	})
//
//	logger := logging.GetLogger("transport")
//	logger.Debug("RTCP received", "kind", "pli")
//
// Records fan out to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory History that the control API
// serves for quick inspection. Journal records are tagged with the
// SYSLOG_IDENTIFIER "screenlink":
//
//	journalctl -t screenlink MODULE=encoder -f
package logging
