package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookClient posts telemetry events to the one-HTTP-endpoint-per-kind
// webhook surface (§6.4), authenticating with a bearer token.
type WebhookClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewWebhookClient constructs a client, or nil if no URL is configured
// (webhook sink disabled).
func NewWebhookClient(baseURL, token string) *WebhookClient {
	if baseURL == "" {
		return nil
	}
	return &WebhookClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookClient) post(ctx context.Context, path string, payload interface{}) error {
	if w == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry: webhook %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// RunStarted posts POST /run-started.
func (w *WebhookClient) RunStarted(ctx context.Context, runID string) error {
	return w.post(ctx, "/run-started", map[string]string{"run_id": runID})
}

// StageProgress posts POST /stage-progress. run_log events are never
// forwarded here — only the DB sink persists them.
func (w *WebhookClient) StageProgress(ctx context.Context, runID string, p StageProgress) error {
	return w.post(ctx, "/stage-progress", withRunID(runID, p))
}

// ExperimentNodeCompleted posts POST /experiment-node-completed.
func (w *WebhookClient) ExperimentNodeCompleted(ctx context.Context, runID string, n NodeCompleted) error {
	return w.post(ctx, "/experiment-node-completed", withRunID(runID, n))
}

// RunFinished posts POST /run-finished.
func (w *WebhookClient) RunFinished(ctx context.Context, runID string, success bool, message string) error {
	return w.post(ctx, "/run-finished", map[string]interface{}{
		"run_id": runID, "success": success, "message": message,
	})
}

// Heartbeat posts POST /heartbeat.
func (w *WebhookClient) Heartbeat(ctx context.Context, runID string) error {
	return w.post(ctx, "/heartbeat", map[string]string{"run_id": runID})
}

func withRunID(runID string, payload interface{}) map[string]interface{} {
	data, _ := json.Marshal(payload)
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	if m == nil {
		m = map[string]interface{}{}
	}
	m["run_id"] = runID
	return m
}
