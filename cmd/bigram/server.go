package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/store"
	"github.com/CTAG07/Bigram/pkg/textprep"
)

// Server wires the store, the live models and the API handlers together.
type Server struct {
	config    *Config
	db        *sql.DB
	logger    *slog.Logger
	store     *store.Store
	registry  *ModelRegistry
	jobs      *JobManager
	authAPI   *AuthAPI
	modelsAPI *ModelsAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

func NewServer(ctx context.Context, config *Config, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	if err := store.SetupSchema(db); err != nil {
		return nil, fmt.Errorf("failed to setup markov schema: %w", err)
	}
	if err := setupAuthSchema(db); err != nil {
		return nil, fmt.Errorf("failed to setup auth schema: %w", err)
	}

	st, err := store.New(db)
	if err != nil {
		return nil, fmt.Errorf("error creating model store: %w", err)
	}
	st.SetLogger(logger)

	registry, err := NewModelRegistry(ctx, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	stopWords, err := loadStopWords(config.Seed)
	if err != nil {
		st.Close()
		return nil, err
	}

	trainClean, err := config.Training.NewCleaner()
	if err != nil {
		st.Close()
		return nil, err
	}

	jobs := NewJobManager(logger)

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		store:     st,
		registry:  registry,
		jobs:      jobs,
		authAPI:   NewAuthAPI(db, logger),
		modelsAPI: NewModelsAPI(config, registry, st, jobs, stopWords, trainClean, logger),
		statsAPI:  NewStatsAPI(st, registry, jobs, logger),
		serverAPI: NewServerAPI(actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.modelsAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Everything under /api/ passes through authentication first, except
	// the health check so container orchestrators can use it.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	return server, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.apiMux
}

// Close cancels running jobs, waits for them to save their models and
// releases the store's prepared statements. The database stays open.
func (s *Server) Close(ctx context.Context) error {
	err := s.jobs.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("Background jobs did not stop in time", "error", err)
	}
	s.store.Close()
	return err
}

// loadStopWords reads the configured stop-word file, or returns the built-in
// English list when none is configured.
func loadStopWords(config *SeedConfig) (markov.StopWords, error) {
	if config.StopWordsPath == "" {
		return textprep.DefaultStopWords(), nil
	}
	f, err := os.Open(config.StopWordsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stop words file: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	words, err := textprep.ReadStopWords(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read stop words file: %w", err)
	}
	if len(words) == 0 {
		return nil, errors.New("stop words file is empty")
	}
	return words, nil
}
