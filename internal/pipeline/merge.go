package pipeline

import (
	"context"
	"fmt"
	"strings"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/model"
	"fac-data-pipeline/internal/store"

	"github.com/pkg/errors"
)

// Merger builds the merged relation by left-joining every staged source onto
// the anchor (the first configured source) in descriptor order.
type Merger struct {
	staging *store.Staging
}

// NewMerger creates a merger reading from the given staging store.
func NewMerger(staging *store.Staging) *Merger {
	return &Merger{staging: staging}
}

// Merge creates the merged relation and returns its row count. Every anchor
// row appears in the output whether or not the other sources match it; a
// join key appearing more than once in a non-anchor relation duplicates the
// anchor row once per match, which is standard join fan-out and is kept as
// is. Column names colliding with an earlier relation are prefixed with
// their relation name.
func (m *Merger) Merge(ctx context.Context, sources []config.Source, joinKey string) (int64, error) {
	anchor := sources[0].Name
	schema, ok := m.staging.Schema(anchor)
	if !ok {
		return 0, model.MergeError(errors.Errorf("anchor relation %q was never staged", anchor))
	}
	if !schema.Has(joinKey) {
		return 0, model.ConfigError(errors.Errorf("join key %q is not a column of anchor source %q", joinKey, anchor))
	}

	taken := make(map[string]bool, len(schema))
	selectCols := make([]string, 0, len(schema))
	for _, c := range schema {
		selectCols = append(selectCols, "a."+store.QuoteIdent(c.Name))
		taken[c.Name] = true
	}

	var joins strings.Builder
	for i, src := range sources[1:] {
		alias := fmt.Sprintf("t%d", i+1)
		srcSchema, ok := m.staging.Schema(src.Name)
		if !ok {
			return 0, model.MergeError(errors.Errorf("relation %q was never staged", src.Name))
		}
		for _, c := range srcSchema {
			if c.Name == joinKey {
				continue
			}
			out := c.Name
			if taken[out] {
				out = src.Name + "_" + c.Name
			}
			taken[out] = true
			selectCols = append(selectCols,
				fmt.Sprintf("%s.%s AS %s", alias, store.QuoteIdent(c.Name), store.QuoteIdent(out)))
		}
		fmt.Fprintf(&joins, " LEFT JOIN %s %s ON a.%s = %s.%s",
			store.QuoteIdent(src.Name), alias,
			store.QuoteIdent(joinKey), alias, store.QuoteIdent(joinKey))
	}

	merged := store.QuoteIdent(model.MergedRelation)
	if _, err := m.staging.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+merged); err != nil {
		return 0, model.MergeError(errors.Wrap(err, "drop previous merge result"))
	}
	query := fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s a%s",
		merged, strings.Join(selectCols, ", "), store.QuoteIdent(anchor), joins.String())
	if _, err := m.staging.DB().ExecContext(ctx, query); err != nil {
		return 0, model.MergeError(errors.Wrap(err, "build merged relation"))
	}

	rows, err := m.staging.RowCount(model.MergedRelation)
	if err != nil {
		return 0, model.MergeError(err)
	}
	return rows, nil
}
