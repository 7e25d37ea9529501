package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/screenlink/internal/api/models"
	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/events"
	"github.com/smazurov/screenlink/internal/sources"
)

type enumeratedAt interface {
	EnumeratedAt() time.Time
}

func (s *Server) registerSourceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/api/sources",
		Summary:     "List Sources",
		Description: "List shareable monitors, windows and applications. The list is cached until refresh is requested.",
		Tags:        []string{"sources"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SourceListInput) (*models.SourceListResponse, error) {
		list, err := s.catalog.List(ctx, input.Refresh)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate sources", err)
		}
		if list == nil {
			list = []sources.Source{}
		}

		data := models.SourceListData{Sources: list, Count: len(list)}
		if c, ok := s.catalog.(enumeratedAt); ok {
			data.EnumeratedAt = c.EnumeratedAt()
		}
		if input.Refresh && s.eventBus != nil {
			s.eventBus.Publish(events.SourcesRefreshedEvent{
				Count:     len(list),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
		return &models.SourceListResponse{Body: data}, nil
	})

	if s.options.Thumbnail == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-source-thumbnail",
		Method:      http.MethodGet,
		Path:        "/api/sources/{source_id}/thumbnail",
		Summary:     "Source Thumbnail",
		Description: "Grab a single JPEG frame of a source, scaled down for previews",
		Tags:        []string{"sources"},
		Errors:      []int{401, 404, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ThumbnailInput) (*models.ThumbnailResponse, error) {
		src, err := s.catalog.Lookup(ctx, input.SourceID)
		if err != nil {
			if errors.Is(err, sources.ErrNotFound) {
				return nil, huma.Error404NotFound("Source not found", err)
			}
			return nil, huma.Error500InternalServerError("Failed to look up source", err)
		}

		width := input.Width
		if width == 0 {
			width = capture.DefaultThumbnailWidth
		}
		img, err := s.options.Thumbnail(ctx, src, width)
		if err != nil {
			return nil, huma.Error503ServiceUnavailable("Source could not be captured", err)
		}
		return &models.ThumbnailResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			Body:         img,
		}, nil
	})
}
