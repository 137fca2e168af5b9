package api

import (
	"context"
	"net/http"
	"time"

	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/store"
)

// staleThreshold allows one missed daily build before a station is degraded.
const staleThreshold = 48 * time.Hour

const recentFailureLimit = 10

type HealthStatus struct {
	Status    string               `json:"status"`
	Stations  []StationHealth      `json:"stations"`
	Documents *store.DocumentStats `json:"documents,omitempty"`
	Failures  []RunFailure         `json:"recent_failures,omitempty"`
	Errors    []string             `json:"errors,omitempty"`
}

type RunFailure struct {
	Kind       string    `json:"kind"`
	Station    string    `json:"station"`
	TargetDate string    `json:"target_date"`
	StartedAt  time.Time `json:"started_at"`
	Error      string    `json:"error"`
}

type StationHealth struct {
	Station     string     `json:"station"`
	LastBuild   *time.Time `json:"last_build,omitempty"`
	LastCollect *time.Time `json:"last_collect,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Stale       bool       `json:"stale"`
}

type documentStatser interface {
	GetDocumentStats(ctx context.Context) (*store.DocumentStats, error)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stations := analysis.Buildable(s.catalog.Stations)
	health := HealthStatus{
		Status:   "ok",
		Stations: make([]StationHealth, 0, len(stations)),
	}
	now := s.clock.Now()

	for _, st := range stations {
		runs, err := s.runs.GetLatestRuns(ctx, st.Code)
		if err != nil {
			health.Errors = append(health.Errors, st.Code+": "+err.Error())
			continue
		}

		sh := StationHealth{Station: st.Code, Stale: true}
		for _, run := range runs {
			started := run.StartedAt
			if !run.Success && run.ErrorMessage.Valid && sh.LastError == "" {
				sh.LastError = run.ErrorMessage.String
			}
			switch {
			case run.Kind == "build":
				sh.LastBuild = &started
				sh.Stale = !run.Success || now.Sub(started) > staleThreshold
			case sh.LastCollect == nil || started.After(*sh.LastCollect):
				sh.LastCollect = &started
			}
		}
		if sh.Stale {
			health.Status = "degraded"
		}
		health.Stations = append(health.Stations, sh)
	}

	failed, err := s.runs.GetRecentFailedRuns(ctx, recentFailureLimit)
	if err != nil {
		health.Errors = append(health.Errors, "runs: "+err.Error())
	}
	for _, run := range failed {
		// unfinished runs are still in progress
		if !run.FinishedAt.Valid || now.Sub(run.StartedAt) > staleThreshold {
			continue
		}
		health.Failures = append(health.Failures, RunFailure{
			Kind:       run.Kind,
			Station:    run.Station,
			TargetDate: run.TargetDate,
			StartedAt:  run.StartedAt,
			Error:      run.ErrorMessage.String,
		})
	}

	if statser, ok := s.docs.(documentStatser); ok {
		stats, err := statser.GetDocumentStats(ctx)
		if err != nil {
			health.Errors = append(health.Errors, "documents: "+err.Error())
		} else {
			health.Documents = stats
		}
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
