package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts threaded Slack messages on stage transitions and
// run completion, using the run id as the thread fingerprint in place of
// an alert fingerprint — every message about the same run lands in one
// thread.
type SlackNotifier struct {
	api       *goslack.Client
	channelID string
}

// NewSlackNotifier constructs a notifier bound to one channel. A nil
// return means Slack notification is disabled (no token configured).
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}
	return &SlackNotifier{api: goslack.New(token), channelID: channelID}
}

// NotifyStageTransition posts (or threads onto) the run's message
// reporting a stage boundary.
func (s *SlackNotifier) NotifyStageTransition(ctx context.Context, runID, fromStage, toStage, reason string) {
	if s == nil {
		return
	}
	text := fmt.Sprintf("run %s: %s -> %s (%s)", runID, fromStage, toStage, reason)
	s.post(ctx, runID, text)
}

// NotifyRunFinished posts the terminal message for a run.
func (s *SlackNotifier) NotifyRunFinished(ctx context.Context, runID string, success bool, message string) {
	if s == nil {
		return
	}
	status := "succeeded"
	if !success {
		status = "failed"
	}
	text := fmt.Sprintf("run %s %s: %s", runID, status, message)
	s.post(ctx, runID, text)
}

func (s *SlackNotifier) post(ctx context.Context, runID, text string) {
	threadTS, err := s.findThread(ctx, runID)
	if err != nil {
		slog.Warn("slack thread lookup failed, posting untreaded", "run_id", runID, "error", err)
	}
	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	if _, _, err := s.api.PostMessageContext(ctx, s.channelID, opts...); err != nil {
		slog.Warn("slack post failed", "run_id", runID, "error", err)
	}
}

// findThread searches the channel's recent history for a message whose
// text is fingerprinted by runID, returning its timestamp for threading.
func (s *SlackNotifier) findThread(ctx context.Context, runID string) (string, error) {
	history, err := s.api.GetConversationHistoryContext(ctx, &goslack.GetConversationHistoryParameters{
		ChannelID: s.channelID,
		Oldest:    fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix()),
		Limit:     200,
	})
	if err != nil {
		return "", err
	}
	fingerprint := "run " + runID
	for _, msg := range history.Messages {
		if len(msg.Text) >= len(fingerprint) && msg.Text[:len(fingerprint)] == fingerprint {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}
