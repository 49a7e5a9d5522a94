package model

// GenericRecord is a schema-agnostic map for any data source
type GenericRecord map[string]interface{}

// Batch is one page of records fetched from a source. All records in a
// batch share the schema discovered from the batch content.
type Batch []GenericRecord

// Run statuses as stored in the run registry.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusFetching  = "fetching"
	StatusLoading   = "loading"
	StatusMerging   = "merging"
	StatusExporting = "exporting"
	StatusCleanup   = "cleanup"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MergedRelation is the staging table holding the join result.
const MergedRelation = "merged_data"
