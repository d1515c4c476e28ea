package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the per-task scratch area: a "working/" directory the
// generated code executes in, plus a results directory plots and .npy
// artifacts are moved into once a run completes successfully.
type Workspace struct {
	Root       string
	WorkingDir string
	ResultsDir string
}

// PrepareWorkspace creates a fresh per-task subdirectory of baseDir named
// for nodeID, containing an empty working/ scratch folder and pointing at
// the run-scoped results directory shared across the run's nodes.
func PrepareWorkspace(baseDir, runResultsDir, nodeID string) (*Workspace, error) {
	root := filepath.Join(baseDir, nodeID)
	working := filepath.Join(root, "working")
	if err := os.MkdirAll(working, 0o755); err != nil {
		return nil, fmt.Errorf("worker: create working dir: %w", err)
	}
	if err := os.MkdirAll(runResultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("worker: create results dir: %w", err)
	}
	return &Workspace{Root: root, WorkingDir: working, ResultsDir: runResultsDir}, nil
}

// CollectPlots moves every file in working/ matching a plot or .npy
// extension into the workspace's results directory, scoped under nodeID,
// and returns the relative and absolute paths of what was moved.
func (w *Workspace) CollectPlots(nodeID string) (relPaths, absPaths []string, err error) {
	entries, err := os.ReadDir(w.WorkingDir)
	if err != nil {
		return nil, nil, fmt.Errorf("worker: read working dir: %w", err)
	}
	destDir := filepath.Join(w.ResultsDir, nodeID)
	var moved bool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" && ext != ".npy" {
			continue
		}
		if !moved {
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("worker: create plot dest dir: %w", err)
			}
			moved = true
		}
		src := filepath.Join(w.WorkingDir, e.Name())
		dst := filepath.Join(destDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return nil, nil, fmt.Errorf("worker: move plot %s: %w", e.Name(), err)
		}
		rel, relErr := filepath.Rel(w.ResultsDir, dst)
		if relErr != nil {
			rel = dst
		}
		relPaths = append(relPaths, rel)
		absPaths = append(absPaths, dst)
	}
	return relPaths, absPaths, nil
}

// GPUEnv returns the environment variable overrides that expose exactly
// one GPU index to the interpreter's child process, or an empty
// CUDA_VISIBLE_DEVICES (no GPU visible) for a CPU-only dispatch.
func GPUEnv(gpuIndex *int) []string {
	if gpuIndex == nil {
		return []string{"CUDA_VISIBLE_DEVICES="}
	}
	return []string{fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", *gpuIndex)}
}
