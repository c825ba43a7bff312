package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/store"
)

// StatsSummary combines the persisted database statistics with the
// in-memory statistics of every live model.
type StatsSummary struct {
	Database *store.DBStats          `json:"database"`
	Live     map[string]markov.Stats `json:"live"`
	Jobs     int                     `json:"jobs_running"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	store    *store.Store
	registry *ModelRegistry
	jobs     *JobManager
	logger   *slog.Logger
}

func NewStatsAPI(st *store.Store, registry *ModelRegistry, jobs *JobManager, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		store:    st,
		registry: registry,
		jobs:     jobs,
		logger:   logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleSummary)
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeStatsRead) {
		return
	}

	dbStats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get database stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}

	running := 0
	for _, job := range s.jobs.List() {
		if job.Status == JobRunning {
			running++
		}
	}

	respondWithJSON(w, http.StatusOK, StatsSummary{
		Database: dbStats,
		Live:     s.registry.Stats(),
		Jobs:     running,
	})
}
