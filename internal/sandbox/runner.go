package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
)

// Runner is the containerd-based sandbox backend. Every execution gets a
// fresh container with its own namespaces, resource ceilings and seccomp
// filter; nothing survives between runs.
type Runner struct {
	client        *Client
	runtimes      *runtime.Registry
	active        atomic.Int64
	mu            sync.Mutex
	closed        bool
	cancelCleanup context.CancelFunc
}

// NewRunner creates a containerd-backed sandbox runner. Orphaned
// containers from a previous process are swept at startup and every
// five minutes after.
func NewRunner(client *Client, runtimes *runtime.Registry) *Runner {
	r := &Runner{
		client:   client,
		runtimes: runtimes,
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelCleanup = cancel
	go r.orphanCleanupLoop(ctx)

	return r
}

// Execute runs code in an isolated container and blocks until it reaches
// a terminal outcome. On timeout the partial output is returned together
// with ErrTimeout.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language).
		Logger()

	if err := r.validateRequest(req); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &ExecutionError{ExecID: execID, Op: "acquire", Err: ErrBackendClosed}
	}
	r.mu.Unlock()

	r.active.Add(1)
	defer r.active.Add(-1)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt, err := r.runtimes.Get(req.Language)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "get_runtime", Err: fmt.Errorf("%w: %s", ErrUnsupportedLang, req.Language)}
	}

	hostCodeDir, err := os.MkdirTemp("", "exec-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostCodeDir)

	codeFileName := "code" + rt.FileExtension()
	hostCodePath := filepath.Join(hostCodeDir, codeFileName)
	if err := os.WriteFile(hostCodePath, []byte(req.Code), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_code", Err: err}
	}
	if err := os.Chmod(hostCodePath, 0444); err != nil { // #nosec G302 -- container runs as nobody (UID 65534)
		return nil, &ExecutionError{ExecID: execID, Op: "chmod_code", Err: err}
	}

	image, err := r.client.PullImage(execCtx, rt.Image())
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "pull_image", Err: err}
	}

	containerID := "exec-" + execID
	codePath := "/workspace/" + codeFileName

	container, err := r.createContainer(execCtx, containerID, image, rt, codePath, hostCodeDir, req.Limits)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_container", Err: err}
	}
	// Teardown on every exit path. A failure here is an internal fault:
	// logged, never allowed to swallow the result.
	defer func() {
		if cleanErr := r.cleanupContainer(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container teardown failed")
		}
	}()

	stdout := NewLineBuffer(req.Limits.MaxOutputLines)
	stderr := NewLineBuffer(req.Limits.MaxOutputLines)

	var stdin *strings.Reader
	if req.Stdin != "" {
		stdin = strings.NewReader(req.Stdin)
	} else {
		stdin = strings.NewReader("")
	}

	task, err := container.NewTask(execCtx,
		cio.NewCreator(cio.WithStreams(stdin, stdout, stderr)),
	)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_task", Err: err}
	}
	defer func() {
		if _, err := task.Delete(context.Background(), containerd.WithProcessKill); err != nil {
			logger.Error().Err(err).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(execCtx)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_wait", Err: err}
	}

	start := time.Now()
	if err := task.Start(execCtx); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_start", Err: err}
	}

	logger.Debug().Msg("task started")

	select {
	case status := <-exitCh:
		duration := time.Since(start)
		exitCode := int(status.ExitCode())

		logger.Info().
			Int("exit_code", exitCode).
			Dur("duration", duration).
			Msg("execution completed")

		// 137 = SIGKILL, the cgroup killed the process at a resource
		// ceiling. Output captured so far is still returned.
		if exitCode == 137 {
			return &Result{
				ID:       execID,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitCode,
				Duration: duration,
			}, &ExecutionError{ExecID: execID, Op: "run", Err: ErrOOM}
		}

		return &Result{
			ID:       execID,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Duration: duration,
		}, nil

	case <-execCtx.Done():
		// Watchdog fired: kill the task, reclaim the container, surface
		// whatever output made it out before the deadline.
		logger.Warn().Dur("timeout", timeout).Msg("execution timed out, killing task")
		if err := task.Kill(context.Background(), 9); err != nil {
			logger.Error().Err(err).Msg("failed to kill timed out task")
		}
		<-exitCh

		return &Result{
			ID:       execID,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: time.Since(start),
		}, ErrTimeout
	}
}

// ActiveCount returns the number of currently running executions.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Healthy reports whether the containerd connection is usable.
func (r *Runner) Healthy(ctx context.Context) bool {
	return r.client.Healthy(ctx)
}

// Close shuts down the runner.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if r.cancelCleanup != nil {
		r.cancelCleanup()
	}
	return r.client.Close()
}

func (r *Runner) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	rt runtime.Runtime,
	codePath string,
	hostCodeDir string,
	limits Limits,
) (containerd.Container, error) {
	nsCtx := r.client.WithNamespace(ctx)

	container, err := r.client.Raw().NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(rt.Command(codePath)...),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, DefaultSecurityProfile())
				ApplyResourceLimits(s, limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      hostCodeDir,
					Options:     []string{"rbind", "ro"},
				})

				s.Process.Env = []string{
					"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
					"HOME=/tmp",
					"LANG=C.UTF-8",
					"SANDBOX=true",
				}

				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	return container, nil
}

func (r *Runner) validateRequest(req Request) error {
	if req.Code == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if _, err := r.runtimes.Get(req.Language); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedLang, req.Language)
	}
	if req.Limits != (Limits{}) {
		if err := req.Limits.Validate(); err != nil {
			return err
		}
	}
	return nil
}
