package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
)

// Limits are the per-execution resource ceilings. They come from the
// per-language configuration and are never chosen by the submitter.
type Limits struct {
	CPUQuota       int64 `json:"cpu_quota"` // 1024 = 1 CPU core
	MemoryMB       int64 `json:"memory_mb"` // Hard memory limit
	PidsLimit      int64 `json:"pids_limit"`
	MaxOutputLines int   `json:"max_output_lines"`
	ScratchMB      int64 `json:"scratch_mb"` // Tmpfs size for /tmp
}

// DefaultLimits returns the baseline ceilings.
func DefaultLimits() Limits {
	return Limits{
		CPUQuota:       512, // 0.5 CPU
		MemoryMB:       256,
		PidsLimit:      50,
		MaxOutputLines: 1000,
		ScratchMB:      100,
	}
}

// LimitsFor maps a language's configuration onto sandbox ceilings.
func LimitsFor(lc config.LanguageConfig) Limits {
	l := DefaultLimits()
	if lc.CPUQuota > 0 {
		l.CPUQuota = lc.CPUQuota
	}
	if lc.MemoryMB > 0 {
		l.MemoryMB = lc.MemoryMB
	}
	if lc.PidsLimit > 0 {
		l.PidsLimit = lc.PidsLimit
	}
	if lc.MaxOutputLines > 0 {
		l.MaxOutputLines = lc.MaxOutputLines
	}
	return l
}

func (l Limits) Validate() error {
	if l.CPUQuota < 2 || l.CPUQuota > 4096 {
		return fmt.Errorf("%w: cpu_quota must be 2-4096, got %d", ErrInvalidRequest, l.CPUQuota)
	}
	if l.MemoryMB < 16 || l.MemoryMB > 2048 {
		return fmt.Errorf("%w: memory_mb must be 16-2048, got %d", ErrInvalidRequest, l.MemoryMB)
	}
	if l.PidsLimit < 5 || l.PidsLimit > 500 {
		return fmt.Errorf("%w: pids_limit must be 5-500, got %d", ErrInvalidRequest, l.PidsLimit)
	}
	if l.MaxOutputLines < 1 {
		return fmt.Errorf("%w: max_output_lines must be >= 1", ErrInvalidRequest)
	}
	return nil
}

// ApplyResourceLimits writes the ceilings into an OCI runtime spec.
func ApplyResourceLimits(spec *specs.Spec, limits Limits) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	// CFS quota gives a hard CPU cap; shares alone are soft, best-effort.
	// period=100ms, quota = (CPUQuota/1024) * period.
	period := uint64(100000) // 100ms in microseconds
	quota := int64(float64(limits.CPUQuota) / 1024.0 * float64(period))
	if quota < 1000 {
		quota = 1000 // minimum 1ms
	}

	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memoryBytes := limits.MemoryMB * 1024 * 1024
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes, // no swap headroom beyond the memory cap
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: limits.PidsLimit,
	}

	scratchBytes := limits.ScratchMB * 1024 * 1024
	if scratchBytes <= 0 {
		scratchBytes = 100 * 1024 * 1024
	}
	spec.Mounts = appendIfNotExists(spec.Mounts, specs.Mount{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options: []string{
			"nosuid", "nodev",
			fmt.Sprintf("size=%d", scratchBytes),
			"mode=1777",
		},
	})

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: 256, Soft: 256},
		{Type: "RLIMIT_NPROC", Hard: safeUint64(limits.PidsLimit), Soft: safeUint64(limits.PidsLimit)},
		{Type: "RLIMIT_FSIZE", Hard: safeUint64(scratchBytes), Soft: safeUint64(scratchBytes)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_STACK", Hard: 8388608, Soft: 8388608},
	}
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func appendIfNotExists(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
