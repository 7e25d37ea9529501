package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/screenlink/internal/api/models"
	"github.com/smazurov/screenlink/internal/session"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/session",
		Summary:     "Start Session",
		Description: "Start sharing a source. An active session is stopped first.",
		Tags:        []string{"session"},
		Errors:      []int{400, 401, 404, 409, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StartSessionRequest) (*models.SessionResponse, error) {
		st, err := s.supervisor.Start(ctx, session.Request{
			SourceID:    input.Body.SourceID,
			Width:       input.Body.Width,
			Height:      input.Body.Height,
			FPS:         input.Body.FPS,
			BitrateKbps: input.Body.BitrateKbps,
			Backend:     input.Body.Backend,
		})
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		return &models.SessionResponse{Body: st}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodDelete,
		Path:        "/api/session",
		Summary:     "Stop Session",
		Description: "Stop the active session and return its final status. Stopping with nothing active is not an error.",
		Tags:        []string{"session"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return &models.SessionResponse{Body: s.supervisor.Stop()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session Status",
		Description: "Status of the active session, or an inactive status when none runs",
		Tags:        []string{"session"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return &models.SessionResponse{Body: s.supervisor.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session-defaults",
		Method:      http.MethodGet,
		Path:        "/api/session/defaults",
		Summary:     "Session Defaults",
		Description: "Parameters applied when a start request leaves them out",
		Tags:        []string{"session"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.DefaultsResponse, error) {
		return &models.DefaultsResponse{Body: s.supervisor.Defaults()}, nil
	})
}

// mapSessionError converts session error codes to HTTP errors.
func (s *Server) mapSessionError(err error) error {
	msg := err.Error()
	switch session.CodeOf(err) {
	case session.CodeSourceNotFound:
		return huma.Error404NotFound(msg, err)
	case session.CodeInvalidRequest:
		return huma.Error400BadRequest(msg, err)
	case session.CodeSourceUnavailable:
		return huma.Error409Conflict(msg, err)
	case session.CodeCaptureInitFailed, session.CodeEncoderUnavailable:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		s.logger.Error("Session start failed", "error", err)
		return huma.Error500InternalServerError(msg, err)
	}
}
