package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/pkg/seccomp"
)

// DockerRunner is the Docker CLI fallback backend for hosts without a
// reachable containerd socket (development machines, macOS).
type DockerRunner struct {
	runtimes      *runtime.Registry
	active        atomic.Int64
	wg            sync.WaitGroup
	mu            sync.Mutex
	closed        bool
	dockerHost    string // resolved DOCKER_HOST (e.g. from Docker context)
	cancelCleanup context.CancelFunc
}

func NewDockerRunner(runtimes *runtime.Registry) *DockerRunner {
	d := &DockerRunner{
		runtimes:   runtimes,
		dockerHost: resolveDockerHost(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancelCleanup = cancel
	go d.orphanCleanupLoop(ctx)

	return d
}

// orphanCleanupLoop periodically kills orphaned sandbox containers that
// survived server crashes.
func (d *DockerRunner) orphanCleanupLoop(ctx context.Context) {
	d.cleanupOrphans()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOrphans()
		case <-ctx.Done():
			return
		}
	}
}

func (d *DockerRunner) cleanupOrphans() {
	cmd := exec.Command("docker", "ps", "--filter", "name=exec-", "-q") // #nosec G204 -- no user input
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	out, err := cmd.Output()
	if err != nil {
		return
	}
	ids := strings.Fields(strings.TrimSpace(string(out)))
	for _, id := range ids {
		log.Warn().Str("container_id", id).Msg("killing orphaned sandbox container")
		kill := exec.Command("docker", "rm", "-f", id) // #nosec G204 -- id from docker ps
		if d.dockerHost != "" {
			kill.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
		}
		_ = kill.Run()
	}
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker
// Desktop uses a context-specific socket that child processes don't
// inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func (d *DockerRunner) Execute(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language).
		Logger()

	if err := d.validateRequest(req); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, &ExecutionError{ExecID: execID, Op: "acquire", Err: ErrBackendClosed}
	}
	d.mu.Unlock()

	d.wg.Add(1)
	defer d.wg.Done()
	d.active.Add(1)
	defer d.active.Add(-1)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt, err := d.runtimes.Get(req.Language)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "get_runtime", Err: fmt.Errorf("%w: %s", ErrUnsupportedLang, req.Language)}
	}

	hostDir, err := os.MkdirTemp("", "exec-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	codeFile := filepath.Join(hostDir, "code"+rt.FileExtension())
	if err := os.WriteFile(codeFile, []byte(req.Code), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_code", Err: err}
	}
	if err := os.Chmod(codeFile, 0444); err != nil { // world-readable: container runs as nobody
		return nil, &ExecutionError{ExecID: execID, Op: "chmod_code", Err: err}
	}

	// Docker enforces seccomp from a JSON file passed via --security-opt.
	profileJSON, err := seccomp.DockerProfileJSON()
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "seccomp_profile", Err: err}
	}
	seccompPath := filepath.Join(hostDir, "seccomp.json")
	if err := os.WriteFile(seccompPath, profileJSON, 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_seccomp", Err: err}
	}

	containerCodePath := "/workspace/code" + rt.FileExtension()
	args := buildDockerArgs(execID, rt, codeFile, containerCodePath, seccompPath, req.Limits)

	start := time.Now()

	cmd := exec.CommandContext(execCtx, "docker", args...) // #nosec G204 -- args built internally by buildDockerArgs, not from raw user input
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}

	stdout := NewLineBuffer(req.Limits.MaxOutputLines)
	stderr := NewLineBuffer(req.Limits.MaxOutputLines)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	err = cmd.Run()
	duration := time.Since(start)

	var exitCode int
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			// CommandContext only kills the docker CLI client; the
			// container keeps running and holding its limits until it
			// is removed explicitly.
			logger.Warn().Dur("timeout", timeout).Msg("docker execution timed out, removing container")
			d.removeContainer(execID)
			return &Result{
				ID:       execID,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: -1,
				Duration: duration,
			}, ErrTimeout
		}

		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, &ExecutionError{ExecID: execID, Op: "docker_run", Err: err}
		}
		exitCode = exitErr.ExitCode()
		if exitCode == 137 {
			logger.Warn().Msg("process killed (OOM or resource limit)")
			return &Result{
				ID:       execID,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitCode,
				Duration: duration,
			}, &ExecutionError{ExecID: execID, Op: "run", Err: ErrOOM}
		}
	}

	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("docker execution completed")

	return &Result{
		ID:       execID,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func buildDockerArgs(
	execID string,
	rt runtime.Runtime,
	hostCodeFile, containerCodePath, seccompPath string,
	limits Limits,
) []string {
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	scratch := limits.ScratchMB
	if scratch <= 0 {
		scratch = 100
	}

	args := []string{
		"run", "--rm", "-i",
		"--name", "exec-" + execID,
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompPath,
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", limits.PidsLimit),
		"--cpus", fmt.Sprintf("%.1f", float64(limits.CPUQuota)/1024.0),
		"--read-only",
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,nodev,size=%dm", scratch),
		"-v", fmt.Sprintf("%s:%s:ro", hostCodeFile, containerCodePath),
		"--user", "65534:65534",
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "SANDBOX=true",
	}

	args = append(args, rt.Image())
	args = append(args, rt.Command(containerCodePath)...)

	return args
}

func (d *DockerRunner) validateRequest(req Request) error {
	if req.Code == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if _, err := d.runtimes.Get(req.Language); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedLang, req.Language)
	}
	if req.Limits != (Limits{}) {
		if err := req.Limits.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// removeContainer force-removes one sandbox container by execution ID.
func (d *DockerRunner) removeContainer(execID string) {
	rm := exec.Command("docker", "rm", "-f", "exec-"+execID) // #nosec G204 -- id generated internally
	if d.dockerHost != "" {
		rm.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	if err := rm.Run(); err != nil {
		log.Warn().Err(err).Str("exec_id", execID).Msg("failed to remove timed out container")
	}
}

// Healthy reports whether the Docker daemon is reachable.
func (d *DockerRunner) Healthy(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	return cmd.Run() == nil
}

func (d *DockerRunner) ActiveCount() int64 {
	return d.active.Load()
}

func (d *DockerRunner) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}

	// Wait up to 30s for active executions to drain.
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all docker executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", d.active.Load()).Msg("timed out waiting for docker executions to drain")
	}
	return nil
}
