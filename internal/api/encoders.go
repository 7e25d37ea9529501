package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/screenlink/internal/api/models"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/metrics"
)

// EncoderInfo tells the encoders endpoint where the probe report lives.
type EncoderInfo struct {
	Family     string
	ReportPath string
	// Load returns the last hardware engine sample, when a collector runs.
	Load func() []metrics.DeviceLoad
}

func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "Known H.264 encoder families and the last hardware probe report. Run probe-encoders to refresh it.",
		Tags:        []string{"encoders"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.EncodersResponse, error) {
		data := models.EncoderData{
			Families: append([]encoder.Family{encoder.Software}, encoder.HardwareFamilies()...),
			Selected: s.options.Encoders.Family,
		}
		if data.Selected == "" {
			data.Selected = "auto"
		}

		if s.options.Encoders.Load != nil {
			data.Load = s.options.Encoders.Load()
		}
		if path := s.options.Encoders.ReportPath; path != "" {
			report, err := encoder.LoadReport(path)
			switch {
			case err == nil:
				data.Report = report
			case !errors.Is(err, os.ErrNotExist):
				return nil, huma.Error500InternalServerError("Failed to read probe report", err)
			}
		}
		return &models.EncodersResponse{Body: data}, nil
	})
}
