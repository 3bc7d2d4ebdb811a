package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/export"
)

// ExportResult is a rendered document ready to be streamed to the caller.
type ExportResult struct {
	Filename    string
	ContentType string
	Format      models.ReportFormat
	Body        []byte
	GeneratedAt time.Time
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportService renders datasets into downloadable documents.
type ExportService struct {
	renderers map[models.ReportFormat]datasetRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the CSV and PDF exporters.
func NewExportService(logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		renderers: map[models.ReportFormat]datasetRenderer{
			models.ReportFormatCSV: csv,
			models.ReportFormatPDF: pdf,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Render produces the document for data in the requested format. An empty format means CSV.
func (s *ExportService) Render(_ context.Context, format models.ReportFormat, name string, data export.Dataset) (*ExportResult, error) {
	if format == "" {
		format = models.ReportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	body, err := renderer.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	generatedAt := s.now().UTC()
	filename := fmt.Sprintf("%s_%s.%s", sanitizeFilename(name), generatedAt.Format("20060102_150405"), renderer.Extension())
	s.logger.Debug("report rendered", zap.String("filename", filename), zap.Int("bytes", len(body)))
	return &ExportResult{
		Filename:    filename,
		ContentType: renderer.ContentType(),
		Format:      format,
		Body:        body,
		GeneratedAt: generatedAt,
	}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
