package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/screenlink/internal/events"
)

// registerSSERoutes registers the notification stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Session telemetry, state changes, quality changes, failures and backend fallbacks",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"status":            events.StatusEvent{},
		"state-changed":     events.StateChangedEvent{},
		"quality-changed":   events.QualityChangedEvent{},
		"session-failed":    events.SessionFailedEvent{},
		"backend-fallback":  events.BackendFallbackEvent{},
		"sources-refreshed": events.SourcesRefreshedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StatusEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.QualityChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BackendFallbackEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SourcesRefreshedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// The current status goes out first so a new client does not wait a telemetry interval.
		st := s.supervisor.Status()
		if err := send.Data(events.StatusEvent{
			SessionID: st.SessionID,
			Status:    st,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
