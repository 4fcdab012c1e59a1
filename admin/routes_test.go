package admin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/maxpert/tailpub/tailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	statuses []tailer.Status
	pending  int64
}

func (f *fakeProvider) Statuses() []tailer.Status { return f.statuses }
func (f *fakeProvider) Pending() int64            { return f.pending }

func newTestRouter(token string, metrics http.Handler) http.Handler {
	return NewRouter(RoutesConfig{
		Provider: &fakeProvider{
			statuses: []tailer.Status{
				{Path: "/var/log/a.log", State: "idle", Size: 30, Committed: 12, Pinned: true, PinnedAt: 12},
				{Path: "/var/log/b.log", State: "reading", Size: 5},
			},
			pending: 3,
		},
		ClientID: "tailpub-test",
		Broker:   "kafka",
		Token:    token,
		Metrics:  metrics,
	})
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter("secret", nil), "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","files":2}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestRouter("", nil), "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tailpub-test", resp.ClientID)
	assert.Equal(t, "kafka", resp.Broker)
	assert.Equal(t, int64(3), resp.Pending)
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "/var/log/a.log", resp.Files[0].Path)
	assert.True(t, resp.Files[0].Pinned)
	assert.Equal(t, int64(12), resp.Files[0].PinnedAt)
}

func TestFileStatus(t *testing.T) {
	h := newTestRouter("", nil)

	rec := get(t, h, "/status/file?path=/var/log/b.log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st tailer.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "reading", st.State)

	rec = get(t, h, "/status/file?path=/var/log/c.log", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/status/file", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth(t *testing.T) {
	h := newTestRouter("secret", nil)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"bad scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"header", map[string]string{"X-Tailpub-Token": "secret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/status", tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "tailpub_lines_read_total 1\n")
	})

	rec := get(t, newTestRouter("", metrics), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tailpub_lines_read_total")

	rec = get(t, newTestRouter("", nil), "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", newTestRouter("", nil))
	require.NoError(t, err)
	srv.Start()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
