package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/model"
)

// fakeSource is a paginated HTTP source backed by an in-memory record slice.
// It honors the from/size query parameters the way the audit API does.
type fakeSource struct {
	srv        *httptest.Server
	records    []model.GenericRecord
	requests   atomic.Int32
	failStatus atomic.Int32 // when set, every response uses this status
}

func newFakeSource(t *testing.T, records []model.GenericRecord) *fakeSource {
	t.Helper()
	f := &fakeSource{records: records}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if status := f.failStatus.Load(); status != 0 {
			http.Error(w, "source unavailable", int(status))
			return
		}
		from, _ := strconv.Atoi(r.URL.Query().Get("from"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))

		end := from + size
		if from > len(f.records) {
			from = len(f.records)
		}
		if end > len(f.records) {
			end = len(f.records)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": f.records[from:end],
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSource) descriptor(name string, pageSize int) config.Source {
	return config.Source{
		Name:      name,
		URL:       f.srv.URL,
		APIParams: config.APIParams{Size: pageSize},
	}
}

// genRecords builds n records keyed report-0 .. report-n-1.
func genRecords(n int) []model.GenericRecord {
	records := make([]model.GenericRecord, n)
	for i := range records {
		records[i] = model.GenericRecord{
			"report_id": fmt.Sprintf("report-%d", i),
			"agency":    fmt.Sprintf("agency-%d", i%7),
		}
	}
	return records
}

// testConfig builds a validated run config over the given sources, with
// output and staging paths isolated under the test's temp dir.
func testConfig(t *testing.T, sources ...config.Source) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Settings: config.Settings{
			OutputFilename:    filepath.Join(dir, "out", "merged.csv.gz"),
			DownloadDirectory: filepath.Join(dir, "staging"),
			PrimaryJoinKey:    "report_id",
			MemoryLimitMB:     64,
			ExportChunkSize:   50,
		},
		Sources: sources,
	}
	cfg.ApplyDefaults()
	return cfg
}
