package store

import (
	"encoding/json"
	"testing"

	"fac-data-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

func openTestStaging(t *testing.T) *Staging {
	t.Helper()
	s, err := OpenStaging(t.TempDir(), 64)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInferSchemaOrderAndTypes(t *testing.T) {
	batch := model.Batch{
		{"report_id": "123", "zeta": json.Number("1"), "alpha": "x", "ratio": json.Number("0.5")},
		{"report_id": "124", "zeta": json.Number("2"), "alpha": "y", "flag": true},
	}
	schema := InferSchema(batch, "report_id")

	// join key first, then lexicographic
	require.Equal(t, []string{"report_id", "alpha", "flag", "ratio", "zeta"}, schema.Names())
	require.Equal(t, "TEXT", schema[0].Type)
	require.Equal(t, "INTEGER", schema[2].Type) // bool
	require.Equal(t, "REAL", schema[3].Type)
	require.Equal(t, "INTEGER", schema[4].Type)
}

func TestInferSchemaNullThenValue(t *testing.T) {
	batch := model.Batch{
		{"report_id": "1", "note": nil},
		{"report_id": "2", "note": json.Number("7")},
	}
	schema := InferSchema(batch, "report_id")
	require.True(t, schema.Has("note"))
	for _, c := range schema {
		if c.Name == "note" {
			require.Equal(t, "INTEGER", c.Type)
		}
	}
}

func TestCreateAppendRowCount(t *testing.T) {
	s := openTestStaging(t)
	batch := model.Batch{
		{"report_id": "1", "agency": "GSA"},
		{"report_id": "2", "agency": "DOE"},
	}
	schema := InferSchema(batch, "report_id")
	require.NoError(t, s.CreateRelation("general", schema))
	require.NoError(t, s.Append("general", batch))

	n, err := s.RowCount("general")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// appending under the frozen schema with missing fields is fine (NULLs)
	require.NoError(t, s.Append("general", model.Batch{{"report_id": "3"}}))
	n, err = s.RowCount("general")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestAppendRejectsUnknownFields(t *testing.T) {
	s := openTestStaging(t)
	first := model.Batch{{"report_id": "1", "agency": "GSA"}}
	require.NoError(t, s.CreateRelation("general", InferSchema(first, "report_id")))
	require.NoError(t, s.Append("general", first))

	drifted := model.Batch{{"report_id": "2", "surprise": "x", "another": "y"}}
	err := s.Append("general", drifted)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected field(s)")
	require.Contains(t, err.Error(), "surprise")
	require.Contains(t, err.Error(), "another")

	// the failed batch must not be partially applied
	n, err := s.RowCount("general")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestCreateRelationReplaces(t *testing.T) {
	s := openTestStaging(t)
	batch := model.Batch{{"report_id": "1"}}
	schema := InferSchema(batch, "report_id")
	require.NoError(t, s.CreateRelation("general", schema))
	require.NoError(t, s.Append("general", batch))

	require.NoError(t, s.CreateRelation("general", schema))
	n, err := s.RowCount("general")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestAppendToMissingRelation(t *testing.T) {
	s := openTestStaging(t)
	err := s.Append("ghost", model.Batch{{"report_id": "1"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestNestedValuesStoredAsJSON(t *testing.T) {
	s := openTestStaging(t)
	batch := model.Batch{
		{"report_id": "1", "details": map[string]interface{}{"code": "A"}},
	}
	require.NoError(t, s.CreateRelation("general", InferSchema(batch, "report_id")))
	require.NoError(t, s.Append("general", batch))

	var details string
	err := s.DB().QueryRow(`SELECT "details" FROM "general"`).Scan(&details)
	require.NoError(t, err)
	require.JSONEq(t, `{"code":"A"}`, details)
}
