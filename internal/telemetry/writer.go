package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// DBSink persists events into the three run-scoped tables described in
// §6.4. Implemented by internal/storage against the pgx/migrate-backed
// database.
type DBSink interface {
	InsertStageProgress(ctx context.Context, runID string, p StageProgress) error
	InsertRunLog(ctx context.Context, runID string, l RunLog) error
	InsertNodeCompleted(ctx context.Context, runID string, n NodeCompleted) error
	// Reopen re-establishes the connection after an insert error, matching
	// the source's "close and re-open, drop the event" recovery.
	Reopen(ctx context.Context) error
}

const heartbeatInterval = 60 * time.Second

// Writer drains a Queue in the background, persisting to DBSink and
// forwarding to WebhookClient. One Writer per run.
type Writer struct {
	Queue    *Queue
	DB       DBSink
	Webhook  *WebhookClient
	Notifier *SlackNotifier
	RunID    string

	done chan struct{}
}

// NewWriter constructs a Writer. Run starts the background drain loop.
func NewWriter(q *Queue, db DBSink, webhook *WebhookClient, notifier *SlackNotifier, runID string) *Writer {
	return &Writer{Queue: q, DB: db, Webhook: webhook, Notifier: notifier, RunID: runID, done: make(chan struct{})}
}

// Run drains events until the queue is closed and drained, or ctx is
// cancelled. It also runs the periodic heartbeat on its own ticker.
// Intended to be launched in its own goroutine.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	if w.Webhook != nil {
		if err := w.Webhook.RunStarted(ctx, w.RunID); err != nil {
			slog.Warn("webhook run-started failed", "error", err)
		}
	}

	for {
		select {
		case ev, ok := <-w.Queue.Events():
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case <-heartbeat.C:
			if w.Webhook != nil {
				if err := w.Webhook.Heartbeat(ctx, w.RunID); err != nil {
					slog.Warn("webhook heartbeat failed", "error", err)
				}
			}
		case <-ctx.Done():
			w.drainRemaining(context.Background())
			return
		}
	}
}

// drainRemaining flushes whatever is already buffered in the queue
// without blocking for more, used on shutdown so a cancelled Run still
// honors "writer drains all queued events before shutdown".
func (w *Writer) drainRemaining(ctx context.Context) {
	for {
		select {
		case ev, ok := <-w.Queue.Events():
			if !ok {
				return
			}
			w.handle(ctx, ev)
		default:
			return
		}
	}
}

func (w *Writer) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case KindRunStageProgress:
		if w.DB != nil && ev.Progress != nil {
			if err := w.DB.InsertStageProgress(ctx, ev.RunID, *ev.Progress); err != nil {
				slog.Warn("telemetry DB insert failed, reopening", "error", err)
				_ = w.DB.Reopen(ctx)
			}
		}
		if w.Webhook != nil && ev.Progress != nil {
			if err := w.Webhook.StageProgress(ctx, ev.RunID, *ev.Progress); err != nil {
				slog.Warn("telemetry webhook post failed", "error", err)
			}
		}
	case KindRunLog:
		// run_log is DB-only; never forwarded to the webhook sink.
		if w.DB != nil && ev.Log != nil {
			if err := w.DB.InsertRunLog(ctx, ev.RunID, *ev.Log); err != nil {
				slog.Warn("telemetry DB insert failed, reopening", "error", err)
				_ = w.DB.Reopen(ctx)
			}
		}
	case KindExperimentNodeCompleted:
		if w.DB != nil && ev.Completed != nil {
			if err := w.DB.InsertNodeCompleted(ctx, ev.RunID, *ev.Completed); err != nil {
				slog.Warn("telemetry DB insert failed, reopening", "error", err)
				_ = w.DB.Reopen(ctx)
			}
		}
		if w.Webhook != nil && ev.Completed != nil {
			if err := w.Webhook.ExperimentNodeCompleted(ctx, ev.RunID, *ev.Completed); err != nil {
				slog.Warn("telemetry webhook post failed", "error", err)
			}
		}
	}
}

// Shutdown closes the queue (sentinel-equivalent), waits up to 5s for the
// writer to drain and exit, then publishes run-finished.
func (w *Writer) Shutdown(ctx context.Context, success bool, message string) {
	w.Queue.Close()
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		slog.Warn("telemetry writer did not exit within shutdown timeout")
	}
	if w.Webhook != nil {
		if err := w.Webhook.RunFinished(ctx, w.RunID, success, message); err != nil {
			slog.Warn("webhook run-finished failed", "error", err)
		}
	}
	if w.Notifier != nil {
		w.Notifier.NotifyRunFinished(ctx, w.RunID, success, message)
	}
}
