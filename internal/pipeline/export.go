package pipeline

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"fac-data-pipeline/internal/model"
	"fac-data-pipeline/internal/store"

	"github.com/pkg/errors"
)

// Exporter streams a staged relation to a gzip-compressed CSV file. Rows are
// scanned and written in bounded windows, so the relation never has to fit
// in process memory.
type Exporter struct {
	staging   *store.Staging
	chunkSize int
}

// NewExporter creates an exporter flushing every chunkSize rows.
func NewExporter(staging *store.Staging, chunkSize int) *Exporter {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Exporter{staging: staging, chunkSize: chunkSize}
}

// Export writes the relation to outputPath and returns the row count. The
// file is written next to the target as <output>.partial and renamed into
// place only after a complete write, so a failed export never leaves a
// usable-looking artifact at the configured path.
func (e *Exporter) Export(ctx context.Context, relation, outputPath string) (count int64, err error) {
	if dir := filepath.Dir(outputPath); dir != "." {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return 0, model.ExportError(errors.Wrap(mkErr, "create output directory"))
		}
	}

	partial := outputPath + ".partial"
	f, createErr := os.Create(partial)
	if createErr != nil {
		return 0, model.ExportError(errors.Wrap(createErr, "create output file"))
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	gz := gzip.NewWriter(f)
	w := csv.NewWriter(gz)

	rows, queryErr := e.staging.DB().QueryContext(ctx, "SELECT * FROM "+store.QuoteIdent(relation))
	if queryErr != nil {
		return 0, model.ExportError(errors.Wrapf(queryErr, "scan relation %q", relation))
	}
	defer rows.Close()

	cols, colsErr := rows.Columns()
	if colsErr != nil {
		return 0, model.ExportError(errors.Wrap(colsErr, "read columns"))
	}
	if writeErr := w.Write(cols); writeErr != nil {
		return 0, model.ExportError(errors.Wrap(writeErr, "write header"))
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(cols))

	for rows.Next() {
		if scanErr := rows.Scan(ptrs...); scanErr != nil {
			return count, model.ExportError(errors.Wrap(scanErr, "scan row"))
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if writeErr := w.Write(record); writeErr != nil {
			return count, model.ExportError(errors.Wrap(writeErr, "write row"))
		}
		count++
		if count%int64(e.chunkSize) == 0 {
			w.Flush()
			if flushErr := w.Error(); flushErr != nil {
				return count, model.ExportError(errors.Wrap(flushErr, "flush chunk"))
			}
			if flushErr := gz.Flush(); flushErr != nil {
				return count, model.ExportError(errors.Wrap(flushErr, "flush chunk"))
			}
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return count, model.ExportError(errors.Wrap(rowsErr, "scan relation"))
	}

	w.Flush()
	if flushErr := w.Error(); flushErr != nil {
		return count, model.ExportError(errors.Wrap(flushErr, "flush output"))
	}
	if closeErr := gz.Close(); closeErr != nil {
		return count, model.ExportError(errors.Wrap(closeErr, "finish compression"))
	}
	if closeErr := f.Close(); closeErr != nil {
		return count, model.ExportError(errors.Wrap(closeErr, "close output file"))
	}
	if renameErr := os.Rename(partial, outputPath); renameErr != nil {
		err = model.ExportError(errors.Wrap(renameErr, "commit output file"))
		os.Remove(partial)
		return count, err
	}
	return count, nil
}

// formatValue renders a scanned column value for CSV output. Join NULLs
// export as empty cells.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
