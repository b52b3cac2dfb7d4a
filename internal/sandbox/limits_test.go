package sandbox

import (
	"strings"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
)

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"defaults", DefaultLimits(), false},
		{"cpu too low", Limits{CPUQuota: 1, MemoryMB: 256, PidsLimit: 50, MaxOutputLines: 1000}, true},
		{"cpu too high", Limits{CPUQuota: 8192, MemoryMB: 256, PidsLimit: 50, MaxOutputLines: 1000}, true},
		{"memory too low", Limits{CPUQuota: 512, MemoryMB: 8, PidsLimit: 50, MaxOutputLines: 1000}, true},
		{"memory too high", Limits{CPUQuota: 512, MemoryMB: 4096, PidsLimit: 50, MaxOutputLines: 1000}, true},
		{"pids too low", Limits{CPUQuota: 512, MemoryMB: 256, PidsLimit: 2, MaxOutputLines: 1000}, true},
		{"zero output lines", Limits{CPUQuota: 512, MemoryMB: 256, PidsLimit: 50, MaxOutputLines: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLimitsFor(t *testing.T) {
	lc := config.LanguageConfig{
		MemoryMB:       512,
		CPUQuota:       1024,
		PidsLimit:      100,
		MaxOutputLines: 500,
	}
	l := LimitsFor(lc)
	if l.MemoryMB != 512 || l.CPUQuota != 1024 || l.PidsLimit != 100 || l.MaxOutputLines != 500 {
		t.Errorf("LimitsFor() = %+v", l)
	}
	if l.ScratchMB != 100 {
		t.Errorf("ScratchMB = %d, want default 100", l.ScratchMB)
	}

	// Zero fields fall back to defaults.
	partial := LimitsFor(config.LanguageConfig{MemoryMB: 128})
	if partial.MemoryMB != 128 {
		t.Errorf("MemoryMB = %d, want 128", partial.MemoryMB)
	}
	if partial.CPUQuota != DefaultLimits().CPUQuota {
		t.Errorf("CPUQuota = %d, want default", partial.CPUQuota)
	}
}

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	limits := Limits{CPUQuota: 512, MemoryMB: 256, PidsLimit: 50, MaxOutputLines: 1000, ScratchMB: 100}

	ApplyResourceLimits(spec, limits)

	if spec.Linux == nil || spec.Linux.Resources == nil {
		t.Fatal("resources not set")
	}
	res := spec.Linux.Resources

	if res.CPU == nil || res.CPU.Quota == nil || res.CPU.Period == nil {
		t.Fatal("CPU limits not set")
	}
	// 512/1024 of a 100ms period.
	if *res.CPU.Quota != 50000 {
		t.Errorf("CPU quota = %d, want 50000", *res.CPU.Quota)
	}

	if res.Memory == nil || res.Memory.Limit == nil || res.Memory.Swap == nil {
		t.Fatal("memory limits not set")
	}
	wantMem := int64(256 * 1024 * 1024)
	if *res.Memory.Limit != wantMem {
		t.Errorf("memory limit = %d, want %d", *res.Memory.Limit, wantMem)
	}
	if *res.Memory.Swap != wantMem {
		t.Errorf("swap limit = %d, want %d (no swap headroom)", *res.Memory.Swap, wantMem)
	}

	if res.Pids == nil || res.Pids.Limit != 50 {
		t.Errorf("pids limit not applied: %+v", res.Pids)
	}

	var tmpfs bool
	for _, m := range spec.Mounts {
		if m.Destination == "/tmp" && m.Type == "tmpfs" {
			tmpfs = true
		}
	}
	if !tmpfs {
		t.Error("tmpfs /tmp mount missing")
	}

	if len(spec.Process.Rlimits) == 0 {
		t.Error("rlimits not applied")
	}
	var core bool
	for _, rl := range spec.Process.Rlimits {
		if rl.Type == "RLIMIT_CORE" && rl.Hard == 0 {
			core = true
		}
	}
	if !core {
		t.Error("core dumps not disabled")
	}
}

func TestApplyResourceLimitsMinimumCPUQuota(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	ApplyResourceLimits(spec, Limits{CPUQuota: 2, MemoryMB: 64, PidsLimit: 10, MaxOutputLines: 100})

	if *spec.Linux.Resources.CPU.Quota < 1000 {
		t.Errorf("CPU quota = %d, want floor of 1000us", *spec.Linux.Resources.CPU.Quota)
	}
}

func TestBuildDockerArgs(t *testing.T) {
	// Network must always be disabled and the container must run unprivileged.
	rt, err := runtime.NewRegistry().Get("python")
	if err != nil {
		t.Fatal(err)
	}
	args := buildDockerArgs("abc123", rt, "/host/code.py", "/workspace/code.py", "/host/seccomp.json", DefaultLimits())

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--network none",
		"--cap-drop ALL",
		"--read-only",
		"--user 65534:65534",
		"--pids-limit 50",
		"seccomp=/host/seccomp.json",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("docker args missing %q: %s", want, joined)
		}
	}
}
