package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maillens/maillens/config"
	"github.com/maillens/maillens/db"
	"github.com/maillens/maillens/ingest"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *mux.Router, *db.Database) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maillens.db")
	database, err := db.NewDatabase(context.Background(), path, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	runner, err := ingest.NewRunner(database, config.IngestConfig{})
	require.NoError(t, err)

	server, err := New(database, runner, ServerOptions{Addr: "127.0.0.1:0", APIKey: apiKey})
	require.NoError(t, err)
	return server, server.setupRoutes(), database
}

func writeMailDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("From: sender%d@example.com\r\nSubject: message %d\r\n\r\nhello body %d\r\n", i, i, i)
		raw := fmt.Sprintf("%d\n%s", len(msg), msg)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.emlx", i)), []byte(raw), 0o644))
	}
	return dir
}

func doJSON(t *testing.T, router *mux.Router, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func waitForDone(t *testing.T, router *mux.Router) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := doJSON(t, router, "GET", "/api/v1/ingest/progress", "")
		var resp struct {
			Running  bool `json:"running"`
			Progress struct {
				State string `json:"state"`
			} `json:"progress"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return !resp.Running && resp.Progress.State == ingest.StateDone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIngestEndpoints(t *testing.T) {
	_, router, database := newTestServer(t, "")
	dir := writeMailDir(t, 3)

	rec := doJSON(t, router, "POST", "/api/v1/ingest", fmt.Sprintf(`{"path":%q}`, dir))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	waitForDone(t, router)

	count, err := database.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStartIngestBadRequests(t *testing.T) {
	_, router, _ := newTestServer(t, "")

	rec := doJSON(t, router, "POST", "/api/v1/ingest", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/ingest", `{"path":"/definitely/not/here"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelWhenIdle(t *testing.T) {
	_, router, _ := newTestServer(t, "")
	rec := doJSON(t, router, "POST", "/api/v1/ingest/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"idle"`)
}

func TestMessagesAndSearch(t *testing.T) {
	_, router, _ := newTestServer(t, "")
	dir := writeMailDir(t, 5)

	rec := doJSON(t, router, "POST", "/api/v1/ingest", fmt.Sprintf(`{"path":%q}`, dir))
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForDone(t, router)

	rec = doJSON(t, router, "GET", "/api/v1/messages?limit=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Messages []db.MessageSummary `json:"messages"`
		Total    int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, 2, listResp.Total)

	rec = doJSON(t, router, "GET", "/api/v1/search?q=hello", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, 5, listResp.Total)

	rec = doJSON(t, router, "GET", "/api/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	_, router, _ := newTestServer(t, "")
	dir := writeMailDir(t, 4)

	rec := doJSON(t, router, "POST", "/api/v1/ingest", fmt.Sprintf(`{"path":%q}`, dir))
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForDone(t, router)

	rec = doJSON(t, router, "GET", "/api/v1/stats/overview", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var overview db.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, int64(4), overview.TotalMessages)
	assert.Equal(t, int64(4), overview.UniqueSenders)

	rec = doJSON(t, router, "GET", "/api/v1/stats/top-senders?limit=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/stats/dormant-senders?days=0", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/stats/recipient-buckets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, router, _ := newTestServer(t, "")
	rec := doJSON(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := newTestServer(t, "")
	rec := doJSON(t, router, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "maillens_")
}

func TestAuthMiddleware(t *testing.T) {
	_, router, _ := newTestServer(t, "secret-key")

	// No header
	rec := doJSON(t, router, "GET", "/api/v1/ingest/progress", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong scheme
	req := httptest.NewRequest("GET", "/api/v1/ingest/progress", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key
	req = httptest.NewRequest("GET", "/api/v1/ingest/progress", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Correct key
	req = httptest.NewRequest("GET", "/api/v1/ingest/progress", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open without credentials.
	rec = doJSON(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowedHosts(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	server.allowedHosts = []string{"10.0.0.0/8"}
	router := server.setupRoutes()

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "192.168.1.5:4242"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:4242"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
