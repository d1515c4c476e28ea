package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookClientPostsExpectedPathsAndAuth(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "tok-123")
	require.NotNil(t, c)

	ctx := testContext()
	require.NoError(t, c.RunStarted(ctx, "run-1"))
	require.NoError(t, c.StageProgress(ctx, "run-1", StageProgress{Stage: "stage1_baseline"}))
	require.NoError(t, c.ExperimentNodeCompleted(ctx, "run-1", NodeCompleted{NodeID: "n1"}))
	require.NoError(t, c.Heartbeat(ctx, "run-1"))
	require.NoError(t, c.RunFinished(ctx, "run-1", true, "ok"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/run-started", "/stage-progress", "/experiment-node-completed", "/heartbeat", "/run-finished"}, paths)
	assert.Equal(t, "Bearer tok-123", authHeader)
}

func TestWebhookClientReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "")
	require.NotNil(t, c)
	err := c.RunStarted(testContext(), "run-1")
	assert.Error(t, err)
}

func TestNewWebhookClientNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewWebhookClient("", ""))
}
