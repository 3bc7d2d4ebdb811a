package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/models"
	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/export"
)

func sampleDataset() export.Dataset {
	return export.Dataset{
		Title:   "Rollback plan p-1",
		Headers: []string{"Section", "Item", "Status", "Detail"},
		Rows: []map[string]string{
			{"Section": "plan", "Item": "versions", "Status": "completed", "Detail": "1.1.0 -> 1.0.0"},
		},
	}
}

func TestExportServiceRenderCSV(t *testing.T) {
	svc := NewExportService(zap.NewNop(), nil, nil)
	result, err := svc.Render(context.Background(), models.ReportFormatCSV, "rollback-p/1", sampleDataset())
	require.NoError(t, err)
	require.Equal(t, "text/csv", result.ContentType)
	require.True(t, strings.HasPrefix(result.Filename, "rollback-p-1_"))
	require.True(t, strings.HasSuffix(result.Filename, ".csv"))
	require.Contains(t, string(result.Body), "1.1.0 -> 1.0.0")
}

func TestExportServiceRenderPDF(t *testing.T) {
	svc := NewExportService(zap.NewNop(), nil, nil)
	result, err := svc.Render(context.Background(), models.ReportFormatPDF, "rollback-p-1", sampleDataset())
	require.NoError(t, err)
	require.Equal(t, "application/pdf", result.ContentType)
	require.True(t, bytes.HasPrefix(result.Body, []byte("%PDF")))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(zap.NewNop(), nil, nil)
	_, err := svc.Render(context.Background(), models.ReportFormat("xlsx"), "x", sampleDataset())
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "na", sanitizeFilename(""))
	require.Equal(t, "a_b-c-d", sanitizeFilename("a b/c:d"))
	require.Len(t, sanitizeFilename(strings.Repeat("x", 150)), 100)
}
