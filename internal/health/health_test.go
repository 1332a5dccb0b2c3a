package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var rep report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	return rec.Code, rep
}

func TestReadiness(t *testing.T) {
	s := New(0)
	h := s.Handler()

	code, rep := get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", rep.Status)

	s.SetReady(true)
	code, rep = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", rep.Status)
}

func TestHealthzReportsComponents(t *testing.T) {
	s := New(0)
	s.Register("assistant", func(context.Context) string { return "ok" })
	s.Register("ableton", func(context.Context) string { return "disconnected" })
	s.SetReady(true)

	code, rep := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, map[string]string{"assistant": "ok", "ableton": "disconnected"}, rep.Components)
}

func TestHealthzNotReady(t *testing.T) {
	code, rep := get(t, New(0).Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", rep.Status)
	assert.Empty(t, rep.Components)
}
