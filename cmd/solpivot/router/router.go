// Package router configures the status endpoint of a running extraction.
//
// Routes configured:
//   - GET /progress[?detail=true] - Latest run with its record counts
//   - GET /healthz - Health check (pings the journal when it supports it)
//   - GET /metrics - Prometheus metrics for the run
package router

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/solpivot/pkg/httpx"
	"github.com/HatiCode/solpivot/pkg/journal"
)

// Progress is the /progress response body.
type Progress struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Finished   bool   `json:"finished"`
	Period     string `json:"period"`
	Chunk      string `json:"chunk"`
	Scenarios  int    `json:"scenarios"`
	Records    int    `json:"records"`
	Failed     int    `json:"failed"`
	Rows       int    `json:"rows"`
	Skipped    int    `json:"skipped"`

	Details []UnitProgress `json:"details,omitempty"`
}

// UnitProgress is one journal record in a detailed /progress response.
type UnitProgress struct {
	Scenario   string  `json:"scenario"`
	Collection int     `json:"collection"`
	Property   int     `json:"property,omitempty"`
	Dataset    string  `json:"dataset,omitempty"`
	Status     string  `json:"status"`
	Windows    int     `json:"windows"`
	Rows       int     `json:"rows"`
	Error      string  `json:"error,omitempty"`
	Seconds    float64 `json:"seconds"`
}

type pinger interface {
	Ping() error
}

// SetupRoutes configures the HTTP endpoints. gatherer may be nil to serve
// the default registry.
func SetupRoutes(store journal.Store, gatherer prometheus.Gatherer, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	var check func() error
	if p, ok := store.(pinger); ok {
		check = p.Ping
	}
	mux.Handle("/healthz", httpx.HealthHandlerWithCheck(check))

	mux.HandleFunc("/progress", handleProgress(store, logger))

	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func handleProgress(store journal.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		detail := false
		if v := r.URL.Query().Get("detail"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "detail must be a boolean")
				return
			}
			detail = b
		}

		run, units, found, err := store.LatestRun()
		if err != nil {
			logger.Error("failed to read journal", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no run recorded")
			return
		}

		httpx.WriteJSON(w, http.StatusOK, buildProgress(run, units, detail))
	}
}

func buildProgress(run journal.Run, units []journal.UnitRecord, detail bool) Progress {
	p := Progress{
		RunID:     run.ID,
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Finished:  run.Finished(),
		Period:    run.Period,
		Chunk:     run.Chunk,
		Scenarios: run.Scenarios,
		Records:   run.Units,
		Failed:    run.Failed,
	}
	if p.Finished {
		p.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	for _, u := range units {
		p.Rows += u.Rows
		p.Skipped += u.Skipped
		if detail {
			p.Details = append(p.Details, UnitProgress{
				Scenario:   u.Scenario,
				Collection: u.Collection,
				Property:   u.Property,
				Dataset:    u.Dataset,
				Status:     u.Status,
				Windows:    u.Windows,
				Rows:       u.Rows,
				Error:      u.Error,
				Seconds:    u.Duration.Seconds(),
			})
		}
	}
	return p
}
