package pipeline

import (
	"fmt"
	"iter"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/model"
	"fac-data-pipeline/internal/store"
)

// Loader populates one staging relation per source from the fetcher's batch
// sequence. The first batch establishes the relation's schema; every later
// batch must fit inside it.
type Loader struct {
	staging *store.Staging
	joinKey string
	stats   *Stats
}

// NewLoader creates a loader writing into the given staging store.
func NewLoader(staging *store.Staging, joinKey string, stats *Stats) *Loader {
	if stats == nil {
		stats = &Stats{}
	}
	return &Loader{staging: staging, joinKey: joinKey, stats: stats}
}

// LoadSource consumes the batch sequence for one source and returns the
// total number of rows staged. The relation is (re)created from the first
// batch, so a rerun against the same store starts clean.
func (l *Loader) LoadSource(src config.Source, batches iter.Seq2[model.Batch, error]) (int64, error) {
	first := true
	var total int64
	for batch, err := range batches {
		if err != nil {
			return total, err
		}
		l.stats.incFetched(int64(len(batch)))

		if first {
			schema := store.InferSchema(batch, l.joinKey)
			if err := l.staging.CreateRelation(src.Name, schema); err != nil {
				return total, model.AppendError(src.Name, err)
			}
			first = false
		}
		if err := l.staging.Append(src.Name, batch); err != nil {
			return total, model.AppendError(src.Name, err)
		}
		total += int64(len(batch))
		l.stats.incLoaded(int64(len(batch)))
		fmt.Printf("📥 %s: %d rows staged\n", src.Name, total)
	}
	return total, nil
}
