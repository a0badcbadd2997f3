package controlapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/skysweep/internal/enginestate"
	"github.com/oriys/skysweep/internal/jobs"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := enginestate.Open(t.TempDir(), "skysweep-test")
	require.NoError(t, err)
	t.Cleanup(store.Stop)
	return &Handler{Manager: jobs.New(store)}
}

func TestCreateJobAndGetJob(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"name":"demo"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs/1", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"demo"`)
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/jobs/999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveRunningJobConflicts(t *testing.T) {
	h := newTestHandler(t)
	id, err := h.Manager.SubmitJob([]byte("name: demo\n"))
	require.NoError(t, err)
	job, err := h.Manager.GetJob(id)
	require.NoError(t, err)
	require.NoError(t, h.Manager.MarkRunning(job.ID))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
