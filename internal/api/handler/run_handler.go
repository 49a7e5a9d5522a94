package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fac-data-pipeline/internal/config"
	"fac-data-pipeline/internal/pipeline"
	"fac-data-pipeline/internal/store"

	"github.com/google/uuid"
)

// RunHandler serves the run submission and status endpoints.
type RunHandler struct {
	runs *store.Runs
}

func NewRunHandler(runs *store.Runs) *RunHandler {
	return &RunHandler{runs: runs}
}

// CreateRun accepts a run configuration, registers a pending run and starts
// the pipeline asynchronously.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	if err := h.runs.SaveRun(runID, &cfg); err != nil {
		http.Error(w, "Failed to save run", http.StatusInternalServerError)
		return
	}

	// per-fetch timeouts come from the config; the run itself has no deadline
	go func() {
		runner := pipeline.NewRunner(&cfg).WithRegistry(h.runs)
		runner.Run(context.Background(), runID)
	}()

	resp := map[string]interface{}{
		"runID":     runID,
		"status":    "pending",
		"createdAt": time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListRuns returns all runs, newest first.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns()
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// GetRun returns one run's status and stored configuration.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	runID := segments[len(segments)-1]

	info, cfg, err := h.runs.GetRun(runID)
	if err == sql.ErrNoRows {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"id":        info.ID,
		"status":    info.Status,
		"createdAt": info.CreatedAt,
		"updatedAt": info.UpdatedAt,
		"config":    cfg,
	}
	if info.Error != "" {
		resp["error"] = info.Error
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
