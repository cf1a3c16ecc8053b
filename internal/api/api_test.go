package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/diagnostics"
	"github.com/Signet-AI/signetai-sub002/internal/embedclient"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/recall"
	"github.com/Signet-AI/signetai-sub002/internal/repair"
	"github.com/Signet-AI/signetai-sub002/internal/session"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
)

// newTestServer wires a Server over a fresh temp-file sqlite store and a
// nil-provider embed client, following the teacher's
// web/handlers/search_test.go pattern of standing up real components
// instead of mocking them.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	embed := embedclient.New(cfg.Embedding)
	p := ingest.New(db, embed, cfg)
	re := recall.New(db, embed, cfg, nil, nil)
	rep := repair.New(db, embed, cfg)
	sess := session.New(db, session.DefaultCheckpointConfig())
	diag := diagnostics.New(db, embed, cfg)

	return New(db, p, re, rep, sess, diag, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestHandleRememberRoundTripsThroughRecall(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{
		"content": "critical: rotate the deploy keys every week",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, true, body["pinned"])

	rec = doJSON(t, s, http.MethodPost, "/api/memory/recall", map[string]interface{}{
		"query": "deploy keys",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody(t, rec)["results"].([]interface{})
	assert.NotEmpty(t, results)
}

func TestHandleRememberRejectsEmptyContent(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSaveIsAnAliasForRemember(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/memory/save", map[string]interface{}{"content": "we use go 1.24"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["id"])
}

func TestHandleForgetThenRecoverRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "scratch note to delete"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	rec = doJSON(t, s, http.MethodPost, "/api/memory/forget", map[string]interface{}{"id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", decodeBody(t, rec)["status"])

	rec = doJSON(t, s, http.MethodPost, "/api/memory/recover", map[string]interface{}{"id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recovered", decodeBody(t, rec)["status"])
}

func TestHandleForgetPinnedWithoutForceIsConflict(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{
		"content": "pinned rule", "pinned": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	rec = doJSON(t, s, http.MethodPost, "/api/memory/forget", map[string]interface{}{"id": id})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleForgetMissingIDIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/memory/forget", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleForgetUnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/memory/forget", map[string]interface{}{"id": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleModifyUpdatesContentAndBumpsVersion(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "draft wording"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	newContent := "final wording"
	rec = doJSON(t, s, http.MethodPost, "/api/memory/modify", map[string]interface{}{
		"id": id, "content": newContent,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", decodeBody(t, rec)["status"])

	rec = doJSON(t, s, http.MethodGet, "/api/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	memories := decodeBody(t, rec)["memories"].([]interface{})
	require.Len(t, memories, 1)
	got := memories[0].(map[string]interface{})
	assert.Equal(t, newContent, got["content"])
	assert.Equal(t, float64(2), got["version"])
}

func TestHandleListMemoriesReturnsStats(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "first memory"})
	doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "second memory"})

	rec := doJSON(t, s, http.MethodGet, "/api/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total"])
}

func TestHandleSearchRequiresQueryParam(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/memory/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchFindsRememberedContent(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/memory/remember", map[string]interface{}{"content": "the launch runbook lives in the wiki"})

	rec := doJSON(t, s, http.MethodGet, "/memory/search?q=runbook", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody(t, rec)["results"].([]interface{})
	assert.NotEmpty(t, results)
}

func TestHandleRepairUnknownActionIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/repair/not-a-real-action", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityHeadersAppliedToEveryResponse(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
