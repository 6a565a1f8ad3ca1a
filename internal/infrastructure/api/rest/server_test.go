package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridify/gentable/internal/application/executor"
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/infrastructure/code"
	"github.com/gridify/gentable/internal/infrastructure/files"
	"github.com/gridify/gentable/internal/infrastructure/monitoring"
	"github.com/gridify/gentable/internal/infrastructure/search"
	"github.com/gridify/gentable/internal/infrastructure/storage"
	"github.com/gridify/gentable/internal/infrastructure/websocket"
)

type staticRouter struct{}

func (staticRouter) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{ID: "r", Model: "m", Content: "static", FinishReason: "stop"}, nil
}

func (staticRouter) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta, 2)
	errs := make(chan error, 1)
	deltas <- domain.StreamDelta{ID: "r", Model: "m", Content: "static"}
	deltas <- domain.StreamDelta{ID: "r", Model: "m", FinishReason: "stop"}
	close(deltas)
	close(errs)
	return deltas, errs
}

func (staticRouter) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (staticRouter) Rerank(ctx context.Context, model, query string, documents []string) ([]domain.RerankResult, error) {
	return nil, nil
}

func newTestServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateTable(context.Background(), &domain.Table{
		ID:        "notes",
		ProjectID: "default",
		Columns: domain.Schema{
			{ID: domain.ColumnRowID, Dtype: domain.DtypeStr},
			{ID: "input", Dtype: domain.DtypeStr},
			{ID: "summary", Dtype: domain.DtypeStr, Gen: &domain.LLMGenConfig{UserPrompt: "${input}"}},
		},
	}))
	caps := executor.Capabilities{
		Store:     store,
		Router:    staticRouter{},
		Knowledge: search.NewProvider(store),
		Files:     files.NewLocalURIReader(),
		Docs:      files.PlainDocLoader{},
		Code:      code.NewExprRunner(),
		Observers: monitoring.NewObserverManager(),
		Metrics:   monitoring.NewUsageCollector(),
	}
	return NewServer(caps, executor.DefaultOrchestratorConfig(), websocket.NewHub(), jwtSecret, "default")
}

func TestAddRowsEndpoint(t *testing.T) {
	server := newTestServer(t, "")
	body := `{"data":[{"input":"hi"}],"concurrent":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/notes/rows/add", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"static"`)
}

func TestAddRowsStreamEndpoint(t *testing.T) {
	server := newTestServer(t, "")
	body := `{"data":[{"input":"hi"}],"stream":true,"concurrent":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/notes/rows/add", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestAddRowsValidation(t *testing.T) {
	server := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/notes/rows/add", strings.NewReader(`{"data":[]}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/missing/rows/add", strings.NewReader(`{"data":[{"input":"x"}]}`))
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/notes/rows/add", strings.NewReader(`{"data":[{"input":"x"}]}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := websocket.IssueToken("secret", "tester")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/gen_tables/notes/rows/add", strings.NewReader(`{"data":[{"input":"x"}],"concurrent":true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
