package interpreter

import _ "embed"

// runnerScript is the embedded REPL-style child program. Callers write it
// to disk (see RunnerScript) and pass that path to DefaultCommand, which
// invokes it with the configured Python executable.
//
//go:embed runner.py
var runnerScript []byte

// RunnerScript returns the embedded child runner source, for callers that
// materialize it into a workspace directory before building a Config.
func RunnerScript() []byte {
	return runnerScript
}

// DefaultCommand builds the Command slice for a standard CPython child
// using the given interpreter executable (e.g. from a managed venv) and
// the path the runner script was materialized to.
func DefaultCommand(pythonExe, runnerPath string) []string {
	return []string{pythonExe, "-u", runnerPath}
}
