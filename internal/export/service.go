package export

import (
	"context"
	"fmt"
	"time"

	"plate/api/internal/model"
)

// DataStore loads what an export needs.
type DataStore interface {
	LoadPlate(ctx context.Context, plateID string) (*model.Plate, error)
	ListPlateMetrics(ctx context.Context, plateID string) ([]model.Metric, error)
}

// Service provides plate export functionality
type Service struct {
	store      DataStore
	chromePath string
	now        func() time.Time
	renderPDF  func(ctx context.Context, chromePath, html string) ([]byte, error)
}

// NewService creates a new export service. chromePath may be empty to look
// Chrome up on PATH.
func NewService(store DataStore, chromePath string) *Service {
	return &Service{store: store, chromePath: chromePath, now: time.Now, renderPDF: printPDF}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, plateID string, format Format) (*Result, error) {
	plate, err := s.store.LoadPlate(ctx, plateID)
	if err != nil {
		return nil, fmt.Errorf("load plate: %w", err)
	}
	metrics, err := s.store.ListPlateMetrics(ctx, plateID)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	doc := buildDocument(plate, metrics, s.now())

	switch format {
	case FormatPDF:
		html, err := RenderPlateHTML(doc)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.renderPDF(ctx, s.chromePath, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(plate.Name) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	case FormatXLSX:
		data, err := renderXLSX(doc)
		if err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(plate.Name) + ".xlsx",
			MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "plate"
	}
	return result
}
