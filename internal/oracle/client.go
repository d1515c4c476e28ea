package oracle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Chunk is one piece of a streamed query response.
type Chunk interface{ isChunk() }

// TextChunk carries a fragment of free-form text.
type TextChunk struct{ Text string }

func (*TextChunk) isChunk() {}

// ErrorChunk terminates a stream early.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (*ErrorChunk) isChunk() {}

// DoneChunk signals a clean end of stream, carrying the raw JSON payload
// when the call site requested a structured schema.
type DoneChunk struct{ Raw json.RawMessage }

func (*DoneChunk) isChunk() {}

// Client talks JSON-over-HTTP (with an SSE-framed streaming endpoint) to
// the external LLM oracle process — the same "oracle lives in another
// process, reached over a narrow RPC boundary" shape as a gRPC stub, with
// a different wire format.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. baseURL points at the oracle sidecar,
// e.g. "http://localhost:8088".
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0} // streaming: caller's context governs duration
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Request is the wire payload for a query call.
type Request struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt,omitempty"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	// Schema names the structured response schema the oracle should
	// enforce, or empty for a free-form string response.
	Schema string `json:"schema,omitempty"`
}

// Stream opens a streaming query and returns a channel of Chunks. The
// channel is closed when the stream ends (DoneChunk/ErrorChunk sent
// first) or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle: query %s: %w", req.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("oracle: query %s: unexpected status %d", req.Model, resp.StatusCode)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var frame sseFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				select {
				case ch <- &ErrorChunk{Message: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			var emit Chunk
			switch frame.Type {
			case "text":
				emit = &TextChunk{Text: frame.Text}
			case "done":
				emit = &DoneChunk{Raw: frame.Data}
			case "error":
				emit = &ErrorChunk{Message: frame.Error, Retryable: frame.Retryable}
			default:
				continue
			}
			select {
			case ch <- emit:
			case <-ctx.Done():
				return
			}
			if frame.Type == "done" || frame.Type == "error" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- &ErrorChunk{Message: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

type sseFrame struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// Query drains a Stream to completion and returns the full free-form text.
// Used at call sites that want plan+code prose rather than a typed schema.
func (c *Client) Query(ctx context.Context, systemPrompt, userPrompt, model string, temperature float64) (string, error) {
	ch, err := c.Stream(ctx, Request{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Model: model, Temperature: temperature})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *TextChunk:
			b.WriteString(c.Text)
		case *ErrorChunk:
			return "", fmt.Errorf("oracle: %s", c.Message)
		case *DoneChunk:
			if len(c.Raw) > 0 && string(c.Raw) != "null" {
				var s string
				if json.Unmarshal(c.Raw, &s) == nil {
					return s, nil
				}
			}
		}
	}
	return b.String(), nil
}

// QueryStructured drains a Stream and decodes the final payload into out,
// which must be a pointer to one of the schemas in schemas.go.
func (c *Client) QueryStructured(ctx context.Context, systemPrompt, userPrompt, model, schema string, temperature float64, out interface{}) error {
	ch, err := c.Stream(ctx, Request{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Model: model, Temperature: temperature, Schema: schema})
	if err != nil {
		return err
	}
	var last json.RawMessage
	for chunk := range ch {
		switch c := chunk.(type) {
		case *ErrorChunk:
			return fmt.Errorf("oracle: %s", c.Message)
		case *DoneChunk:
			last = c.Raw
		}
	}
	if len(last) == 0 {
		return fmt.Errorf("oracle: no structured payload returned for schema %q", schema)
	}
	if err := json.Unmarshal(last, out); err != nil {
		return fmt.Errorf("oracle: decode %s response: %w", schema, err)
	}
	return nil
}

// DefaultTimeout is the http.Client timeout cmd/ratchet gives the oracle
// client; it bounds each whole request, including reading the stream.
const DefaultTimeout = 120 * time.Second
