package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchet-labs/ratchet/internal/config"
)

type fakeLauncher struct {
	launched chan string
	fail     error
	resumed  chan string
}

func (f *fakeLauncher) Launch(ctx context.Context, runID string, cfg config.Config, resumeFrom string, onDone func(err error)) {
	go func() {
		if f.launched != nil {
			f.launched <- runID
		}
		if f.resumed != nil {
			f.resumed <- resumeFrom
		}
		onDone(f.fail)
	}()
}

func validRunConfig() config.Config {
	cfg := config.Defaults()
	cfg.DataDir = "/data"
	cfg.DescFile = "/data/desc.json"
	return cfg
}

func TestHealthzReportsHealthy(t *testing.T) {
	srv := NewServer(&fakeLauncher{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateRunRejectsInvalidConfig(t *testing.T) {
	srv := NewServer(&fakeLauncher{})
	body, _ := json.Marshal(createRunRequest{Config: config.Config{}})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRunLaunchesAndReportsSucceeded(t *testing.T) {
	launched := make(chan string, 1)
	srv := NewServer(&fakeLauncher{launched: launched})

	body, _ := json.Marshal(createRunRequest{Config: validRunConfig()})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)

	select {
	case runID := <-launched:
		assert.Equal(t, created.RunID, runID)
	case <-time.After(2 * time.Second):
		t.Fatal("launcher was never invoked")
	}

	require.Eventually(t, func() bool {
		s, ok := srv.runs.get(created.RunID)
		return ok && s.Status == StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	req2 := httptest.NewRequest(http.MethodGet, "/runs/"+created.RunID, nil)
	w2 := httptest.NewRecorder()
	srv.engine.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestCreateRunWithResumeFromUsesExistingRunID(t *testing.T) {
	resumed := make(chan string, 1)
	launched := make(chan string, 1)
	srv := NewServer(&fakeLauncher{launched: launched, resumed: resumed})

	const priorRunID = "prior-run-id"
	body, _ := json.Marshal(createRunRequest{Config: validRunConfig(), ResumeFrom: priorRunID})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, priorRunID, created.RunID)

	select {
	case runID := <-launched:
		assert.Equal(t, priorRunID, runID)
	case <-time.After(2 * time.Second):
		t.Fatal("launcher was never invoked")
	}
	select {
	case resumeFrom := <-resumed:
		assert.Equal(t, priorRunID, resumeFrom)
	case <-time.After(2 * time.Second):
		t.Fatal("launcher never received resume_from")
	}
}

func TestGetRunUnknownIDReturns404(t *testing.T) {
	srv := NewServer(&fakeLauncher{})
	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventHubBroadcastDeliversToSubscriber(t *testing.T) {
	h := newEventHub()
	ch := h.subscribe("run-1")
	defer h.unsubscribe("run-1", ch)

	h.Broadcast("run-1", map[string]string{"kind": "run_log"})

	select {
	case data := <-ch:
		assert.Contains(t, string(data), "run_log")
	case <-time.After(time.Second):
		t.Fatal("expected broadcast event")
	}
}

func TestEventHubBroadcastIgnoresOtherRuns(t *testing.T) {
	h := newEventHub()
	ch := h.subscribe("run-1")
	defer h.unsubscribe("run-1", ch)

	h.Broadcast("run-2", map[string]string{"kind": "run_log"})

	select {
	case <-ch:
		t.Fatal("subscriber to run-1 should not receive run-2 broadcasts")
	case <-time.After(100 * time.Millisecond):
	}
}
