package pipeline

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"fac-data-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

func readGzCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	rows, err := csv.NewReader(gz).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportWritesHeaderAndRows(t *testing.T) {
	s := openTestStaging(t)
	stage(t, s, "general", model.Batch{
		{"report_id": "A", "agency": "GSA"},
		{"report_id": "B", "agency": "DOE"},
	})

	out := filepath.Join(t.TempDir(), "out", "merged.csv.gz")
	count, err := NewExporter(s, 100).Export(context.Background(), "general", out)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	rows := readGzCSV(t, out)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"report_id", "agency"}, rows[0])
	require.Equal(t, []string{"A", "GSA"}, rows[1])
	require.Equal(t, []string{"B", "DOE"}, rows[2])

	// no partial file left behind
	_, err = os.Stat(out + ".partial")
	require.True(t, os.IsNotExist(err))
}

func TestExportNullsAsEmptyCells(t *testing.T) {
	s := openTestStaging(t)
	stage(t, s, "general", model.Batch{
		{"report_id": "A", "agency": "GSA"},
		{"report_id": "B"},
	})

	out := filepath.Join(t.TempDir(), "merged.csv.gz")
	_, err := NewExporter(s, 100).Export(context.Background(), "general", out)
	require.NoError(t, err)

	rows := readGzCSV(t, out)
	require.Equal(t, []string{"B", ""}, rows[2])
}

func TestExportSmallChunksFlush(t *testing.T) {
	s := openTestStaging(t)
	stage(t, s, "general", model.Batch(genRecords(57)))

	out := filepath.Join(t.TempDir(), "merged.csv.gz")
	count, err := NewExporter(s, 10).Export(context.Background(), "general", out)
	require.NoError(t, err)
	require.EqualValues(t, 57, count)
	require.Len(t, readGzCSV(t, out), 58)
}

func TestExportFailureLeavesNoOutput(t *testing.T) {
	s := openTestStaging(t)
	stage(t, s, "general", model.Batch{{"report_id": "A"}})

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// output directory path collides with an existing file
	out := filepath.Join(blocker, "merged.csv.gz")
	_, err := NewExporter(s, 100).Export(context.Background(), "general", out)
	require.Error(t, err)

	var perr *model.PipelineError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, model.KindExport, perr.Kind)

	_, statErr := os.Stat(out)
	require.Error(t, statErr)
}
