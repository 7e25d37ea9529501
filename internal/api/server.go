package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/screenlink/internal/api/models"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/session"
	"github.com/smazurov/screenlink/internal/sources"
)

// SessionController is the part of the supervisor the API drives.
type SessionController interface {
	Start(ctx context.Context, req session.Request) (session.Status, error)
	Stop() session.Status
	Status() session.Status
	Defaults() session.Defaults
}

// SourceCatalog lists and resolves shareable sources.
type SourceCatalog interface {
	List(ctx context.Context, refresh bool) ([]sources.Source, error)
	Lookup(ctx context.Context, id string) (sources.Source, error)
}

// Thumbnailer grabs one JPEG frame of a source.
type Thumbnailer func(ctx context.Context, src sources.Source, maxWidth int) ([]byte, error)

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	Version      string

	Supervisor  SessionController
	Catalog     SourceCatalog
	Thumbnail   Thumbnailer
	EventBus    *events.Bus
	Encoders    EncoderInfo
	MetricsPath string
}

// Server is the huma control API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	supervisor SessionController
	catalog    SourceCatalog
	eventBus   *events.Bus
	logger     *slog.Logger
}

// basicAuthMiddleware rejects requests to secured operations without valid credentials.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	unauthorized := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="screenlink"`)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		// SSE clients cannot set headers, so they may pass ?auth=<base64>.
		encoded, ok := strings.CutPrefix(ctx.Header("Authorization"), "Basic ")
		if !ok {
			if ctx.Header("Authorization") != "" {
				unauthorized(ctx, "Invalid authentication type")
				return
			}
			encoded = ctx.Query("auth")
		}
		if encoded == "" {
			unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			unauthorized(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, found := strings.Cut(string(decoded), ":")
		if !found {
			unauthorized(ctx, "Invalid credentials format")
			return
		}
		if subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("screenlink API", opts.Version)
	config.Info.Description = "Screen-share sender control: sources, session lifecycle and telemetry"
	// Relative server URLs keep the OpenAPI document valid behind any host.
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:        api,
		mux:        mux,
		options:    opts,
		supervisor: opts.Supervisor,
		catalog:    opts.Catalog,
		eventBus:   opts.EventBus,
		logger:     logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting screenlink API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
				Version: s.options.Version,
			},
		}, nil
	})

	s.registerSourceRoutes()
	s.registerSessionRoutes()
	s.registerEncoderRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
