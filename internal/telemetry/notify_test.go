package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlackServer struct {
	mu       sync.Mutex
	posted   []string
	threadTS []string
	history  []map[string]interface{}
}

func newFakeSlackServer(t *testing.T) (*httptest.Server, *fakeSlackServer) {
	fs := &fakeSlackServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/conversations.history"):
			fs.mu.Lock()
			msgs := fs.history
			fs.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "messages": msgs})
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			_ = r.ParseForm()
			fs.mu.Lock()
			fs.posted = append(fs.posted, r.FormValue("text"))
			fs.threadTS = append(fs.threadTS, r.FormValue("thread_ts"))
			fs.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "channel": "C1", "ts": "111.222"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, fs
}

func newTestNotifier(srv *httptest.Server) *SlackNotifier {
	return &SlackNotifier{api: goslack.New("xoxb-test", goslack.OptionAPIURL(srv.URL+"/")), channelID: "C1"}
}

func TestSlackNotifierPostsUnthreadedWhenNoPriorMessage(t *testing.T) {
	srv, fs := newFakeSlackServer(t)
	defer srv.Close()
	n := newTestNotifier(srv)

	n.NotifyStageTransition(testContext(), "run-1", "stage1", "stage2", "main stage complete")

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.posted, 1)
	assert.Contains(t, fs.posted[0], "run-1")
	assert.Empty(t, fs.threadTS[0])
}

func TestSlackNotifierThreadsOntoFingerprintedMessage(t *testing.T) {
	srv, fs := newFakeSlackServer(t)
	defer srv.Close()
	fs.history = []map[string]interface{}{
		{"text": "run run-1: something earlier", "ts": "999.111"},
	}
	n := newTestNotifier(srv)

	n.NotifyRunFinished(testContext(), "run-1", true, "all stages complete")

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.posted, 1)
	assert.Equal(t, "999.111", fs.threadTS[0])
}

func TestNilSlackNotifierIsNoop(t *testing.T) {
	var n *SlackNotifier
	assert.NotPanics(t, func() {
		n.NotifyStageTransition(testContext(), "run-1", "a", "b", "c")
		n.NotifyRunFinished(testContext(), "run-1", true, "done")
	})
}

func TestNewSlackNotifierNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewSlackNotifier("", ""))
	assert.Nil(t, NewSlackNotifier("tok", ""))
}
