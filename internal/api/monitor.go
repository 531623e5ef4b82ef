package api

import (
	"net/http"

	"github.com/openkb/knowbase/internal/jobstatus"
	"github.com/openkb/knowbase/internal/pool"
)

func handlePoolStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Pool.Stats()
		if stats == nil {
			stats = []pool.EntryStats{}
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"size":     deps.Pool.Size(),
			"runtimes": stats,
		})
	}
}

func handlePoolClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Pool.ClearAll()
		respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleAllJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Jobs.All(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		if records == nil {
			records = map[string]jobstatus.Record{}
		}
		respondJSON(w, http.StatusOK, records)
	}
}
