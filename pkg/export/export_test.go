package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Rollback plan report",
		Headers: []string{"check", "status", "message"},
		Rows: []map[string]string{
			{"check": "data_compatibility", "status": "passed", "message": "no declarations"},
			{"check": "user_impact", "status": "warning", "message": "1,204 installations, \"high\" impact"},
		},
		Notes: []string{"generated for plan 7"},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "check,status,message", lines[0])
	require.Equal(t, `user_impact,warning,"1,204 installations, ""high"" impact"`, lines[2])

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	_, err = NewPDFExporter().Render(Dataset{Title: "empty"})
	require.Error(t, err)
}
