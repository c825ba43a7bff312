package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/store"
	"github.com/CTAG07/Bigram/pkg/textprep"
	"github.com/dustin/go-humanize"
)

// ModelsAPI holds the dependencies for the model API handlers.
type ModelsAPI struct {
	config      *Config
	registry    *ModelRegistry
	store       *store.Store
	jobs        *JobManager
	stopWords   markov.StopWords
	trainClean  *textprep.Cleaner
	seedCleaner *textprep.Cleaner
	logger      *slog.Logger
}

// NewModelsAPI creates a new instance of the ModelsAPI.
func NewModelsAPI(config *Config, registry *ModelRegistry, st *store.Store, jobs *JobManager, stopWords markov.StopWords, trainClean *textprep.Cleaner, logger *slog.Logger) *ModelsAPI {
	return &ModelsAPI{
		config:      config,
		registry:    registry,
		store:       st,
		jobs:        jobs,
		stopWords:   stopWords,
		trainClean:  trainClean,
		seedCleaner: textprep.NewSeedCleaner(),
		logger:      logger,
	}
}

// RegisterRoutes sets up the routing for the model, import and job endpoints.
func (m *ModelsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleListAndCreateModels)
	mux.HandleFunc("/api/models/", m.handleModelByName)
	mux.HandleFunc("/api/import", m.handleImport)
	mux.HandleFunc("/api/jobs", m.handleListJobs)
	mux.HandleFunc("/api/jobs/", m.handleJobByID)
}

type CreateModelRequest struct {
	Name string `json:"name"`
}

// TrainResponse reports the outcome of a synchronous training request.
type TrainResponse struct {
	Tokens      int `json:"tokens"`
	Transitions int `json:"transitions"`
	Contexts    int `json:"contexts"`
}

// TrainJobResponse is returned when training runs in the background.
type TrainJobResponse struct {
	JobID string `json:"job_id"`
}

// GenerateRequest selects where generation starts: an explicit two-word
// context, a seed text to suggest one from, or neither for a random start.
type GenerateRequest struct {
	Start  []string `json:"start,omitempty"`
	Seed   string   `json:"seed,omitempty"`
	Length int      `json:"length,omitempty"`
}

type GenerateResponse struct {
	Start []string `json:"start"`
	Text  string   `json:"text"`
}

type SeedRequest struct {
	Seed string `json:"seed"`
}

type SeedResponse struct {
	Start []string `json:"start"`
}

// handleListAndCreateModels handles GET for listing and POST for creating models.
func (m *ModelsAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		respondWithJSON(w, http.StatusOK, m.registry.List())

	case http.MethodPost:
		if !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.Name == "" || strings.ContainsAny(req.Name, "/ ") {
			respondWithError(w, http.StatusBadRequest, "A model name without spaces or slashes is required")
			return
		}
		info, err := m.registry.Create(r.Context(), req.Name)
		if errors.Is(err, ErrModelExists) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			m.logger.Error("Failed to create model", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create model: %v", err))
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model: train, generate,
// seed, export and delete.
func (m *ModelsAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/models/"), "/")
	modelName, action, _ := strings.Cut(path, "/")
	if modelName == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	lm, err := m.registry.Get(modelName)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}

	switch action {
	case "":
		if !requireMethod(w, r, http.MethodDelete) || !requireScope(w, r, scopeModelsWrite) {
			return
		}
		if err = m.registry.Remove(r.Context(), modelName); err != nil {
			m.logger.Error("Failed to remove model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "train":
		if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsWrite) {
			return
		}
		m.train(w, r, lm)

	case "generate":
		if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsGen) {
			return
		}
		m.generate(w, r, lm)

	case "seed":
		if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsGen) {
			return
		}
		var req SeedRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		start, ok := m.suggest(lm, req.Seed)
		if !ok {
			respondWithError(w, http.StatusConflict, "Model has no training data")
			return
		}
		respondWithJSON(w, http.StatusOK, SeedResponse{Start: []string{start.A, start.B}})

	case "export":
		if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeModelsRead) {
			return
		}
		var buf bytes.Buffer
		if err = m.store.ExportModel(r.Context(), lm.info, &buf); err != nil {
			m.logger.Error("Failed to export model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
			return
		}
		m.logger.Info("Serving model export", "name", modelName, "size", humanize.Bytes(uint64(buf.Len())))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", modelName))
		_, _ = buf.WriteTo(w)

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// train reads the request body as training text. With ?async=1 it runs as a
// paced background job; otherwise it trains in full before responding.
func (m *ModelsAPI) train(w http.ResponseWriter, r *http.Request, lm *liveModel) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.config.Server.MaxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Failed to read training text: %v", err))
		return
	}
	text := m.trainClean.Clean(string(raw))
	m.logger.Info("Training request received",
		slog.String("model_name", lm.info.Name),
		slog.String("size", humanize.Bytes(uint64(len(raw)))),
		slog.Bool("async", r.URL.Query().Get("async") == "1"),
	)

	if r.URL.Query().Get("async") == "1" {
		interval := m.config.Training.ChunkInterval()
		id := m.jobs.Start(lm.info.Name, func(ctx context.Context, progress func(completed, total int)) error {
			task := lm.matrix.NewTrainTask(text,
				markov.WithTrainChunkSize(m.config.Training.ChunkSize),
				markov.WithTrainProgress(progress),
			)
			runErr := markov.Run(ctx, task, interval)
			// Whatever was trained before a cancellation is kept, so it is saved too.
			if saveErr := m.registry.Save(context.WithoutCancel(ctx), lm); saveErr != nil {
				return errors.Join(runErr, saveErr)
			}
			return runErr
		})
		w.Header().Set("Location", "/api/jobs/"+id)
		respondWithJSON(w, http.StatusAccepted, TrainJobResponse{JobID: id})
		return
	}

	task := lm.matrix.NewTrainTask(text, markov.WithTrainChunkSize(m.config.Training.ChunkSize))
	if err = markov.Run(r.Context(), task, 0); err != nil {
		m.logger.Warn("Training interrupted", "name", lm.info.Name, "error", err)
	}
	// Whatever was trained before an interruption is already live; persist it.
	if err = m.registry.Save(context.WithoutCancel(r.Context()), lm); err != nil {
		m.logger.Error("Failed to save trained model", "name", lm.info.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		return
	}
	c := task.Cursor()
	respondWithJSON(w, http.StatusOK, TrainResponse{
		Tokens:      c.Consumed,
		Transitions: c.Transitions,
		Contexts:    lm.matrix.Len(),
	})
}

// suggest normalizes seed text and picks a starting context for it.
func (m *ModelsAPI) suggest(lm *liveModel, seed string) (markov.Key, bool) {
	return lm.matrix.SuggestSeed(m.seedCleaner.Clean(seed), m.stopWords, markov.WithExactMatch(m.config.Seed.ExactMatch))
}

// resolveStart picks the starting context of a generation request.
func (m *ModelsAPI) resolveStart(lm *liveModel, req GenerateRequest) (markov.Key, bool, error) {
	switch {
	case len(req.Start) == 2:
		return markov.Key{A: req.Start[0], B: req.Start[1]}, true, nil
	case len(req.Start) != 0:
		return markov.Key{}, false, errors.New("start must hold exactly two words")
	case req.Seed != "":
		start, ok := m.suggest(lm, req.Seed)
		return start, ok, nil
	default:
		start, ok := lm.matrix.RandomStart()
		return start, ok, nil
	}
}

// generate handles a generation request; with ?stream=1 each chunk of words
// is flushed to the client as its own line, paced by the configured interval.
func (m *ModelsAPI) generate(w http.ResponseWriter, r *http.Request, lm *liveModel) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	start, ok, err := m.resolveStart(lm, req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		respondWithError(w, http.StatusConflict, "Model has no training data")
		return
	}
	length := m.config.Generation.ClampLength(req.Length)

	if r.URL.Query().Get("stream") != "1" {
		text, err := lm.matrix.Generate(start, length)
		if err != nil {
			m.logger.Error("Generation failed", "name", lm.info.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Generation failed: %v", err))
			return
		}
		respondWithJSON(w, http.StatusOK, GenerateResponse{Start: []string{start.A, start.B}, Text: text})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	interval := m.config.Generation.ChunkInterval()
	for chunk := range lm.matrix.GenerateStream(ctx, start, length, markov.WithWordsPerChunk(m.config.Generation.WordsPerChunk)) {
		if _, err = io.WriteString(w, strings.TrimPrefix(chunk, " ")+"\n"); err != nil {
			m.logger.Debug("Client went away during generation stream", "error", err)
			return
		}
		flusher.Flush()
		if interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

// handleImport imports a model from an uploaded JSON export and makes it live.
func (m *ModelsAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsWrite) {
		return
	}

	imported, err := store.DecodeExportedModel(http.MaxBytesReader(w, r.Body, m.config.Server.MaxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	// Reloading would orphan the matrix a running job trains and saves.
	if m.jobs.Running(imported.Name) {
		respondWithError(w, http.StatusConflict, fmt.Sprintf("Model '%s' has a training job running", imported.Name))
		return
	}

	info, err := m.store.Import(r.Context(), imported)
	if err != nil {
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	if err = m.registry.Reload(r.Context(), info); err != nil {
		m.logger.Error("Failed to load imported model", "name", info.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusCreated, info)
}

func (m *ModelsAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeModelsRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, m.jobs.List())
}

func (m *ModelsAPI) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeModelsRead) {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	job, ok := m.jobs.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Job not found")
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}
