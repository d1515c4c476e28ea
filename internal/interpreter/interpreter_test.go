package interpreter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChild is a tiny shell-based stand-in for the Python runner, used so
// these tests don't depend on a Python interpreter being present. It
// speaks the same ready/output/finished JSON-line protocol.
const fakeChildScript = `#!/bin/sh
while true; do
  echo '{"type":"ready"}'
  line=""
  while IFS= read -r l; do
    if [ "$l" = "###RATCHET-SUBMIT-END###" ]; then break; fi
    line="$l"
  done
  if [ "$line" = "sleep" ]; then
    sleep 5
  fi
  if [ "$line" = "boom" ]; then
    echo '{"type":"finished","exc_type":"RuntimeError","exc_info":{"message":"boom"},"exc_stack":[]}'
  else
    echo '{"type":"finished"}'
  fi
done
`

func writeFakeChild(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "child.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeChildScript), 0o755))
	return path
}

func TestRunSuccessfulExecution(t *testing.T) {
	child := writeFakeChild(t)
	it := New(Config{
		Command: []string{"/bin/sh", child},
		WorkDir: t.TempDir(),
		Timeout: 5 * time.Second,
	})
	defer it.Close()

	res, err := it.Run(context.Background(), "ok", false)
	require.NoError(t, err)
	assert.Equal(t, "", res.ExcType)
}

func TestRunCapturesException(t *testing.T) {
	child := writeFakeChild(t)
	it := New(Config{
		Command: []string{"/bin/sh", child},
		WorkDir: t.TempDir(),
		Timeout: 5 * time.Second,
	})
	defer it.Close()

	res, err := it.Run(context.Background(), "boom", false)
	require.NoError(t, err)
	assert.Equal(t, "RuntimeError", res.ExcType)
}

// TestRunTimeoutSynthesizesTimeoutError covers property #15: a run with a
// short timeout against an unresponsive child returns within
// timeout+60+epsilon seconds with exc_type=TimeoutError.
func TestRunTimeoutSynthesizesTimeoutError(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the full soft-interrupt + kill escalation window")
	}
	child := writeFakeChild(t)
	it := New(Config{
		Command: []string{"/bin/sh", child},
		WorkDir: t.TempDir(),
		Timeout: 1 * time.Second,
	})
	defer it.Close()

	start := time.Now()
	res, err := it.Run(context.Background(), "sleep", false)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "TimeoutError", res.ExcType)
	assert.Less(t, elapsed, 75*time.Second)
}

func TestFormatTracebackEmptyOnSuccess(t *testing.T) {
	assert.Equal(t, "", FormatTraceback("", nil, nil))
}

func TestFormatTracebackIncludesFramesAndMessage(t *testing.T) {
	tb := FormatTraceback("RuntimeError", map[string]interface{}{"message": "boom"}, []Frame{
		{File: "agent.py", Line: 3, Func: "main", Text: "raise RuntimeError('boom')"},
	})
	assert.Contains(t, tb, "agent.py")
	assert.Contains(t, tb, "RuntimeError: boom")
}
