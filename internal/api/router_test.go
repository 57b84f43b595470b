package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/api"
	"github.com/readlater/readlater/internal/api/handler"
	"github.com/readlater/readlater/internal/api/models"
	"github.com/readlater/readlater/internal/auth"
	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/gdpr"
	"github.com/readlater/readlater/internal/queue"
	"github.com/readlater/readlater/internal/storage"
	"github.com/readlater/readlater/internal/user"
)

type testEnv struct {
	router  http.Handler
	exports *gdpr.Service
	list    *queue.MemoryQueue
	store   *storage.MemoryStore
	tokens  *auth.JWTService
}

func newTestEnv(t *testing.T, checks map[string]handler.Checker) *testEnv {
	t.Helper()

	users := user.NewInMemoryRepository()
	users.Add(&user.User{ID: "42", EncodedID: "enc42"})
	users.Add(&user.User{ID: "7", EncodedID: "enc7"})

	env := &testEnv{
		list:  queue.NewMemoryQueue(3),
		store: storage.NewMemoryStore("archives"),
		tokens: auth.NewJWTService(auth.JWTConfig{
			SigningKey: "test-secret-key-for-testing-only",
			Issuer:     "https://api.readlater.app",
			Audience:   "readlater-api",
		}),
	}
	env.exports = gdpr.NewService(gdpr.Config{
		Repo:   gdpr.NewInMemoryRepository(),
		Users:  user.NewDirectory(users),
		Queues: map[string]queue.Sender{"list": env.list},
		Store:  env.store,
		Signer: env.store,
		Logger: zerolog.Nop(),
	})
	env.router = api.NewRouter(api.RouterConfig{
		Version:         "test",
		BuildTime:       "2026-01-01T00:00:00Z",
		Logger:          zerolog.New(io.Discard),
		Tokens:          env.tokens,
		Exports:         env.exports,
		ReadinessChecks: checks,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, userID string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, http.NoBody)
	if userID != "" {
		token, _, err := e.tokens.GenerateAccessToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t, map[string]handler.Checker{
		"database": handler.CheckerFunc(func(context.Context) error { return nil }),
	})

	w := env.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	require.Len(t, health.Subsystems, 1)
	assert.Equal(t, "database", health.Subsystems[0].Name)
}

func TestRouter_ReadinessCheckFailing(t *testing.T) {
	env := newTestEnv(t, map[string]handler.Checker{
		"database": handler.CheckerFunc(func(context.Context) error { return nil }),
		"queue":    handler.CheckerFunc(func(context.Context) error { return errors.New("unreachable") }),
	})

	w := env.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	require.Len(t, health.Subsystems, 2)
	assert.Equal(t, models.HealthStatusOK, health.Subsystems[0].Status)
	assert.Equal(t, "queue", health.Subsystems[1].Name)
	require.NotNil(t, health.Subsystems[1].Detail)
	assert.Equal(t, "unreachable", *health.Subsystems[1].Detail)
}

func TestRouter_GDPR_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, 0, env.list.Len())
}

func TestRouter_GDPR_ExportRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")

	assert.Equal(t, http.StatusAccepted, w.Code)

	var exportReq models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exportReq))

	assert.True(t, strings.HasPrefix(exportReq.ID, "exp_"))
	assert.Equal(t, "/v1/gdpr/export-requests/"+exportReq.ID, w.Header().Get("Location"))
	assert.Equal(t, models.ExportStatusPending, exportReq.Status)
	assert.Equal(t, []string{"list"}, exportReq.Services)
	assert.Empty(t, exportReq.CompletedServices)
	assert.Nil(t, exportReq.DownloadURL)

	require.Len(t, env.list.Bodies(), 1)
	var first export.Request
	require.NoError(t, json.Unmarshal(env.list.Bodies()[0], &first))
	assert.Equal(t, exportReq.ID, first.RequestID)
	assert.Equal(t, export.StartCursor, first.Cursor)
	assert.Equal(t, 0, first.Part)
}

func TestRouter_GDPR_ExportRequestConflict(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")
	assert.Equal(t, http.StatusConflict, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeExportInProgress, problem.Type)
	assert.Equal(t, created.ID, problem.ExportRequestID)
}

func TestRouter_GDPR_ExportRequestUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GDPR_GetReadyExport(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	env.store.Put("parts/enc42/list/part_000000.csv", []byte("id\n1\n"))
	require.NoError(t, env.exports.NotifyComplete(context.Background(), export.PartComplete{
		EncodedID: "enc42", RequestID: created.ID, Service: "list", Prefix: "parts/enc42",
	}))

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests/"+created.ID, "42")
	require.Equal(t, http.StatusOK, w.Code)

	var got models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.ExportStatusReady, got.Status)
	assert.Equal(t, []string{"list"}, got.CompletedServices)
	require.NotNil(t, got.DownloadURL)
	assert.True(t, strings.HasPrefix(*got.DownloadURL, "memory:///archives/"+created.ID+".zip"))
	assert.NotNil(t, got.ExpiresAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestRouter_GDPR_ArchiveRedirectsWhenReady(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests/"+created.ID+"/archive", "42")
	assert.Equal(t, http.StatusConflict, w.Code)
	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeExportNotReady, problem.Type)
	assert.Equal(t, created.ID, problem.ExportRequestID)
	assert.Contains(t, problem.Detail, string(models.ExportStatusPending))

	env.store.Put("parts/enc42/list/part_000000.csv", []byte("id\n1\n"))
	require.NoError(t, env.exports.NotifyComplete(context.Background(), export.PartComplete{
		EncodedID: "enc42", RequestID: created.ID, Service: "list", Prefix: "parts/enc42",
	}))

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests/"+created.ID+"/archive", "42")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "memory:///archives/"+created.ID+".zip"))

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests/"+created.ID+"/archive", "7")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GDPR_GetExportOfOtherUser(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42")
	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.ExportRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests/"+created.ID, "7")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GDPR_ListExportRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/gdpr/export-requests", "42").Code)

	w := env.do(t, http.MethodGet, "/v1/gdpr/export-requests?limit=10", "42")
	require.Equal(t, http.StatusOK, w.Code)

	var page models.PagedExportRequests
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 10, page.Meta.Limit)

	w = env.do(t, http.MethodGet, "/v1/gdpr/export-requests", "7")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, handler.DefaultExportListLimit, page.Meta.Limit)
}

func TestRouter_GDPR_ListExportRequestsInvalidLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, limit := range []string{"0", "101", "abc"} {
		t.Run(limit, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/v1/gdpr/export-requests?limit="+limit, "42")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"field":"limit"`)
		})
	}
}

func TestRouter_RequestID_Generated(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", "")

	assert.Contains(t, w.Header().Get("X-Request-Id"), "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_RequestID_MalformedReplaced(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "not an id")
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-Id"), "req_"))
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/nonexistent", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}
