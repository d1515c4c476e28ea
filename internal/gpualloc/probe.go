package gpualloc

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Spec is a per-index GPU description (name, total memory) returned by
// ProbeSpec — it carries no allocation semantics. No prompt in this module
// includes it.
type Spec struct {
	Name           string
	MemoryTotalMiB int
}

const probeTimeout = 5 * time.Second

// ProbeCount queries nvidia-smi for the number of visible GPUs. If the
// probe fails (binary missing, non-zero exit, timeout), count is zero —
// the allocator is then disabled and no enforcement is performed.
func ProbeCount(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=gpu_name", "--format=csv,noheader").Output()
	if err != nil {
		slog.Debug("nvidia-smi probe failed, assuming CPU-only", "error", err)
		return 0
	}
	lines := splitNonEmpty(string(out))
	return len(lines)
}

// ProbeSpec queries name and total memory (MiB) for a single GPU index.
// Returns {"Unknown", 0} on any parse failure, matching the source's
// defensive fallback so a single malformed nvidia-smi line never aborts a
// run — it only degrades the environment prompt's enrichment.
func ProbeSpec(ctx context.Context, index int) Spec {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"-i", strconv.Itoa(index),
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return Spec{Name: "Unknown"}
	}
	lines := splitNonEmpty(string(out))
	if len(lines) == 0 {
		return Spec{Name: "Unknown"}
	}
	parts := strings.Split(lines[0], ",")
	if len(parts) != 3 {
		return Spec{Name: "Unknown"}
	}
	name := strings.TrimSpace(parts[1])
	memTotal, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		if name == "" {
			name = "Unknown"
		}
		return Spec{Name: name}
	}
	return Spec{Name: name, MemoryTotalMiB: memTotal}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// HostSpec describes host CPU and memory resources, as reported by
// ProbeHost. No prompt in this module includes it.
type HostSpec struct {
	CPUModel    string
	LogicalCPUs int
	TotalMemMB  uint64
}

// ProbeHost reports host CPU/memory via gopsutil. Any individual query
// failure leaves that field at its zero value rather than aborting.
func ProbeHost(ctx context.Context) HostSpec {
	var hs HostSpec
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		hs.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		hs.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.TotalMemMB = vm.Total / (1024 * 1024)
	}
	return hs
}
