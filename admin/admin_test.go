package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		running  bool
		wantCode int
	}{
		{"running", "running", true, http.StatusOK},
		{"draining", "draining", false, http.StatusServiceUnavailable},
		{"stopped", "stopped", false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(func() (string, bool) { return tt.state, tt.running }, stats.New(), logger.NewNopLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body.State)
		})
	}
}

func TestStats(t *testing.T) {
	st := stats.New()
	st.ConnAccepted()
	st.RecordWritten(5)
	st.RecordWritten(7)

	h := NewRouter(func() (string, bool) { return "running", true }, st, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(1), snap.ConnsAccepted)
	assert.Equal(t, int64(1), snap.ConnsActive)
	assert.Equal(t, uint64(2), snap.Records)
	assert.Equal(t, uint64(12), snap.Bytes)
}

func TestRouter_unknownRouteAndMethod(t *testing.T) {
	h := NewRouter(func() (string, bool) { return "running", true }, stats.New(), logger.NewNopLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
