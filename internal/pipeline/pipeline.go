package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/model"
	"fac-data-pipeline/internal/store"

	"github.com/pkg/errors"
)

// Runner drives one pipeline run: fetch and load every source in order,
// merge the staged relations, export the result, then clean up. All run
// state (store handle, config) lives on the Runner, so concurrent runs with
// separate working directories never interfere.
type Runner struct {
	cfg   *config.Config
	runs  *store.Runs // optional registry; nil for untracked CLI runs
	stats *Stats
}

// NewRunner creates a runner for a validated configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg, stats: &Stats{}}
}

// WithRegistry attaches a run registry so state transitions and the final
// error are recorded for API clients.
func (r *Runner) WithRegistry(runs *store.Runs) *Runner {
	r.runs = runs
	return r
}

// Stats returns the run's record counters.
func (r *Runner) Stats() *Stats { return r.stats }

// Run executes the pipeline. Sources are processed strictly sequentially to
// bound peak memory. Any fatal error aborts the run; cleanup still runs on
// the way out when enabled and never masks the original error.
func (r *Runner) Run(ctx context.Context, runID string) (err error) {
	start := time.Now()
	fmt.Printf("🚀 Starting pipeline run %s (%s)\n", runID, r.cfg)
	r.setStatus(runID, model.StatusRunning)

	defer func() {
		if err != nil {
			r.setStatus(runID, model.StatusFailed)
			r.saveError(runID, err)
			fmt.Printf("❌ Run %s failed after %v: %v\n", runID, time.Since(start), err)
		} else {
			r.setStatus(runID, model.StatusCompleted)
			fmt.Printf("🏁 Run %s completed in %v\n", runID, time.Since(start))
		}
	}()

	staging, err := store.OpenStaging(r.cfg.Settings.DownloadDirectory, r.cfg.Settings.MemoryLimitMB)
	if err != nil {
		return model.ConfigError(errors.Wrap(err, "open staging store"))
	}
	defer r.cleanup(runID, staging)

	fetcher := NewFetcher(r.cfg)
	loader := NewLoader(staging, r.cfg.Settings.PrimaryJoinKey, r.stats)
	for _, src := range r.cfg.Sources {
		r.setStatus(runID, model.StatusFetching+":"+src.Name)
		fmt.Printf("➡️ Processing source %s\n", src.Name)
		total, loadErr := loader.LoadSource(src, fetcher.Stream(ctx, src))
		if loadErr != nil {
			return loadErr
		}
		fmt.Printf("✅ %s: %d rows staged\n", src.Name, total)
	}

	r.setStatus(runID, model.StatusMerging)
	mergedRows, err := NewMerger(staging).Merge(ctx, r.cfg.Sources, r.cfg.Settings.PrimaryJoinKey)
	if err != nil {
		return err
	}
	fmt.Printf("🔗 %s: %d rows\n", model.MergedRelation, mergedRows)

	r.setStatus(runID, model.StatusExporting)
	exported, err := NewExporter(staging, r.cfg.Settings.ExportChunkSize).
		Export(ctx, model.MergedRelation, r.cfg.Settings.OutputFilename)
	if err != nil {
		return err
	}
	fmt.Printf("💾 Exported %d rows to %s\n", exported, r.cfg.Settings.OutputFilename)
	return nil
}

// cleanup releases the staging store on every exit path. With cleanup
// enabled it also deletes the backing files and removes the working
// directory once empty. The export output is never touched.
func (r *Runner) cleanup(runID string, staging *store.Staging) {
	if !r.cfg.CleanupEnabled() {
		staging.Close()
		return
	}
	r.setStatus(runID, model.StatusCleanup)
	if err := staging.Destroy(); err != nil {
		fmt.Printf("⚠️ Cleanup: %v\n", err)
	}
	// remove the working directory only if it is now empty
	if err := os.Remove(staging.Dir()); err == nil {
		fmt.Println("🧹 Cleaned up temporary files")
	}
}

func (r *Runner) setStatus(runID, status string) {
	if r.runs == nil {
		return
	}
	if err := r.runs.UpdateStatus(runID, status); err != nil {
		fmt.Printf("⚠️ Failed to update run status: %v\n", err)
	}
}

func (r *Runner) saveError(runID string, runErr error) {
	if r.runs == nil {
		return
	}
	if err := r.runs.SaveError(runID, runErr); err != nil {
		fmt.Printf("⚠️ Failed to record run error: %v\n", err)
	}
}
