package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/store"
)

const poem = "the cat sat on the mat the cat ran"

func testConfig() *Config {
	config := DefaultConfig()
	config.Training.ChunkSize = 3
	config.Training.ChunkIntervalMs = 0
	config.Generation.ChunkIntervalMs = 0
	return config
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestServer builds a Server over db, or a fresh database when db is nil.
func newTestServer(t *testing.T, db *sql.DB) (*Server, chan string) {
	t.Helper()
	if db == nil {
		db = openTestDB(t)
	}
	actionChan := make(chan string, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(context.Background(), testConfig(), logger, db, actionChan)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, actionChan
}

func do(t *testing.T, s *Server, method, target, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if apiKey != "" {
		req.Header.Set(authHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// trainedServer returns a server holding one model, "poem", trained on poem.
func trainedServer(t *testing.T) *Server {
	t.Helper()
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/models", `{"name":"poem"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/api/models/poem/train", poem, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return s
}

func TestModelLifecycle(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/models", `{"name":"poem"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decode[store.ModelInfo](t, rec)
	assert.Equal(t, "poem", info.Name)

	rec = do(t, s, http.MethodPost, "/api/models", `{"name":"poem"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/models", `{"name":"bad name"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/models", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []store.ModelInfo{info}, decode[[]store.ModelInfo](t, rec))

	rec = do(t, s, http.MethodPost, "/api/models/poem/train", poem, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TrainResponse{Tokens: 9, Transitions: 7, Contexts: 6}, decode[TrainResponse](t, rec))

	rec = do(t, s, http.MethodGet, "/api/models/poem/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/models/poem", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/models/poem", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/models/poem/generate", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate(t *testing.T) {
	s := trainedServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantText string
	}{
		{"FromContext", `{"start":["sat","on"],"length":3}`, http.StatusOK, " the mat the"},
		{"DeadEnd", `{"start":["cat","ran"],"length":10}`, http.StatusOK, ""},
		{"UnknownContext", `{"start":["no","such"],"length":10}`, http.StatusOK, ""},
		{"BadStart", `{"start":["sat"]}`, http.StatusBadRequest, ""},
		{"BadJSON", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/models/poem/generate", tt.body, "")
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantText, decode[GenerateResponse](t, rec).Text)
		})
	}

	t.Run("StopsAtDeadEnd", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/models/poem/generate", `{"start":["the","mat"],"length":1000}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		text := decode[GenerateResponse](t, rec).Text
		// Every walk from (the, mat) eventually reaches the (cat, ran) dead end.
		assert.True(t, strings.HasSuffix(text, " cat ran"), text)
		assert.Less(t, len(strings.Fields(text)), 1000)
	})

	t.Run("RandomStart", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/models/poem/generate", "", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[GenerateResponse](t, rec)
		require.Len(t, resp.Start, 2)
		assert.Contains(t, poem, resp.Start[0]+" "+resp.Start[1])
	})

	t.Run("FromSeed", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/models/poem/generate", `{"seed":"The <b>MAT</b>!","length":2}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[GenerateResponse](t, rec)
		assert.Contains(t, resp.Start, "mat")
	})
}

func TestGenerateEmptyModel(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/models", `{"name":"empty"}`, "").Code)

	rec := do(t, s, http.MethodPost, "/api/models/empty/generate", `{"length":5}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/models/empty/seed", `{"seed":"anything"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// An explicit start is still a valid request; it just dead-ends at once.
	rec = do(t, s, http.MethodPost, "/api/models/empty/generate", `{"start":["a","b"]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[GenerateResponse](t, rec).Text)
}

func TestGenerateStream(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/models", `{"name":"letters"}`, "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/models/letters/train", "a b c d e f g", "").Code)

	rec := do(t, s, http.MethodPost, "/api/models/letters/generate?stream=1", `{"start":["a","b"],"length":4}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "c\nd\ne\nf\n", rec.Body.String())
	assert.True(t, rec.Flushed)

	rec = do(t, s, http.MethodPost, "/api/models/letters/generate?stream=1", `{"start":["f","g"],"length":4}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSeed(t *testing.T) {
	s := trainedServer(t)

	rec := do(t, s, http.MethodPost, "/api/models/poem/seed", `{"seed":"The Mat!"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SeedResponse](t, rec)
	require.Len(t, resp.Start, 2)
	assert.Contains(t, resp.Start, "mat")

	rec = do(t, s, http.MethodPost, "/api/models/poem/seed", `{"seed":"cat sat"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cat", "sat"}, decode[SeedResponse](t, rec).Start)

	rec = do(t, s, http.MethodPost, "/api/models/poem/seed", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncTraining(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/models", `{"name":"poem"}`, "").Code)

	rec := do(t, s, http.MethodPost, "/api/models/poem/train?async=1", poem, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[TrainJobResponse](t, rec).JobID
	require.NotEmpty(t, jobID)
	assert.Equal(t, "/api/jobs/"+jobID, rec.Header().Get("Location"))

	var job JobInfo
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/jobs/"+jobID, "", "")
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[JobInfo](t, rec)
		return job.Status != JobRunning
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, JobCompleted, job.Status, job.Error)
	assert.Equal(t, "poem", job.Model)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 3, job.Completed)
	assert.NotNil(t, job.Finished)

	lm, err := s.registry.Get("poem")
	require.NoError(t, err)
	assert.Equal(t, 6, lm.matrix.Len())

	rec = do(t, s, http.MethodGet, "/api/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobInfo](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/jobs/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobCancelledOnClose(t *testing.T) {
	jobs := NewJobManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := markov.NewMatrix()
	started := make(chan struct{})
	id := jobs.Start("slow", func(ctx context.Context, progress func(completed, total int)) error {
		close(started)
		task := m.NewTrainTask(strings.Repeat("a b c ", 100), markov.WithTrainChunkSize(1), markov.WithTrainProgress(progress))
		return markov.Run(ctx, task, time.Hour)
	})
	<-started
	require.NoError(t, jobs.Shutdown(context.Background()))

	job, ok := jobs.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobCancelled, job.Status)
	assert.Less(t, job.Completed, job.Total)
}

func TestModelsPersistAcrossRestart(t *testing.T) {
	db := openTestDB(t)
	s, _ := newTestServer(t, db)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/models", `{"name":"poem"}`, "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/models/poem/train", poem, "").Code)
	require.NoError(t, s.Close(context.Background()))

	restarted, _ := newTestServer(t, db)
	rec := do(t, restarted, http.MethodPost, "/api/models/poem/generate", `{"start":["sat","on"],"length":3}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, " the mat the", decode[GenerateResponse](t, rec).Text)

	lm, err := restarted.registry.Get("poem")
	require.NoError(t, err)
	sampler, ok := lm.matrix.Lookup("the", "cat")
	require.True(t, ok)
	assert.Equal(t, 1, sampler.Frequency("sat"))
	assert.Equal(t, 1, sampler.Frequency("ran"))
}

func TestExportImport(t *testing.T) {
	s := trainedServer(t)

	rec := do(t, s, http.MethodGet, "/api/models/poem/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="poem.json"`, rec.Header().Get("Content-Disposition"))
	exported := rec.Body.String()

	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/models/poem", "", "").Code)

	rec = do(t, s, http.MethodPost, "/api/import", exported, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "poem", decode[store.ModelInfo](t, rec).Name)

	rec = do(t, s, http.MethodPost, "/api/models/poem/generate", `{"start":["sat","on"],"length":3}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, " the mat the", decode[GenerateResponse](t, rec).Text)

	rec = do(t, s, http.MethodPost, "/api/import", `{"contexts":[]}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportRefusedWhileTrainingRuns(t *testing.T) {
	s := trainedServer(t)
	rec := do(t, s, http.MethodGet, "/api/models/poem/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()

	before, err := s.registry.Get("poem")
	require.NoError(t, err)
	release := make(chan struct{})
	s.jobs.Start("poem", func(ctx context.Context, progress func(completed, total int)) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.True(t, s.jobs.Running("poem"))

	rec = do(t, s, http.MethodPost, "/api/import", exported, "")
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	after, err := s.registry.Get("poem")
	require.NoError(t, err)
	assert.Same(t, before, after, "the running job's model stays live")

	close(release)
	require.Eventually(t, func() bool { return !s.jobs.Running("poem") }, 5*time.Second, 10*time.Millisecond)
	rec = do(t, s, http.MethodPost, "/api/import", exported, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	lm, err := s.registry.Get("poem")
	require.NoError(t, err)
	sampler, ok := lm.matrix.Lookup("the", "cat")
	require.True(t, ok)
	assert.Equal(t, 2, sampler.Frequency("sat"), "imported frequencies merge into the stored model")
}

func TestImportRejectsInvalidTokens(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/import",
		`{"name":"bad","contexts":[{"a":"x y","b":"","next":[{"value":"p q r","frequency":2}]}]}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, err := s.registry.Get("bad")
	assert.ErrorIs(t, err, store.ErrModelNotFound)
}

func TestTrainSavesAfterClientDisconnect(t *testing.T) {
	s := trainedServer(t)
	lm, err := s.registry.Get("poem")
	require.NoError(t, err)
	lm.matrix.Train("a dog barked at the cat")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	perms := &Permissions{ScopeSet: map[string]struct{}{scopeMaster: {}}}
	req := httptest.NewRequest(http.MethodPost, "/api/models/poem/train", strings.NewReader(poem)).
		WithContext(context.WithValue(ctx, contextKeyPermissions, perms))
	rec := httptest.NewRecorder()
	s.modelsAPI.handleModelByName(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := s.store.Load(context.Background(), lm.info)
	require.NoError(t, err)
	assert.Equal(t, lm.matrix.Len(), stored.Len())
	_, ok := stored.Lookup("dog", "barked")
	assert.True(t, ok, "training held in memory is persisted despite the cancelled request")
}

func TestStats(t *testing.T) {
	s := trainedServer(t)

	rec := do(t, s, http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[StatsSummary](t, rec)
	require.Len(t, summary.Database.Models, 1)
	assert.Equal(t, markov.Stats{Contexts: 6, Transitions: 7, TotalFrequency: 7, Vocabulary: 6}, summary.Live["poem"])
	id := summary.Database.Models[0].Id
	assert.Equal(t, store.ModelStats{TotalChains: 7, TotalContexts: 6, TotalFrequency: 7}, summary.Database.Stats[id])
	assert.Zero(t, summary.Jobs)
}

func TestAuthentication(t *testing.T) {
	s, _ := newTestServer(t, nil)

	// With no keys the API is open.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/models", "", "").Code)

	rec := do(t, s, http.MethodPost, "/api/auth/keys", `{"scopes":["models:read"],"description":"admin"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	master := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{scopeMaster}, master.Scopes, "the first key is always a master key")
	assert.True(t, strings.HasPrefix(master.RawKey, "bgm_"))

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/models", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/models", "", "bgm_wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/models", "", master.RawKey).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/health", "", "").Code, "health is unauthenticated")

	rec = do(t, s, http.MethodPost, "/api/auth/keys", `{"scopes":["models:teleport"]}`, master.RawKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/auth/keys", `{"scopes":["models:read"],"description":"reader"}`, master.RawKey)
	require.Equal(t, http.StatusCreated, rec.Code)
	reader := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{scopeModelsRead}, reader.Scopes)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/models", "", reader.RawKey).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/models", `{"name":"x"}`, reader.RawKey).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/auth/keys", "", reader.RawKey).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/auth/keys", `{"scopes":["*"]}`, reader.RawKey).Code)

	rec = do(t, s, http.MethodGet, "/api/auth/me", "", reader.RawKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string][]string{"scopes": {scopeModelsRead}}, decode[map[string][]string](t, rec))

	rec = do(t, s, http.MethodGet, "/api/auth/keys", "", master.RawKey)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decode[[]APIKeyInfo](t, rec)
	require.Len(t, keys, 2)
	assert.Equal(t, "reader", keys[1].Description)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/api/auth/keys/1", "", master.RawKey).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/api/auth/keys/abc", "", master.RawKey).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/auth/keys/"+strconv.Itoa(reader.ID), "", master.RawKey).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/auth/keys/"+strconv.Itoa(reader.ID), "", master.RawKey).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/models", "", reader.RawKey).Code)
}

func TestServerAPI(t *testing.T) {
	s, actionChan := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/server/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decode[VersionInfo](t, rec).Version)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/server/shutdown", "", "").Code)

	rec = do(t, s, http.MethodPost, "/api/server/restart", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case action := <-actionChan:
		assert.Equal(t, actionRestart, action)
	case <-time.After(5 * time.Second):
		t.Fatal("restart action was not sent")
	}
}
