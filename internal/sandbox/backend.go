package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
)

// NewBackend selects and constructs an execution backend from config.
// "auto" prefers containerd (Linux hosts with a reachable socket) and
// falls back to the Docker CLI.
func NewBackend(cfg config.SandboxConfig, runtimes *runtime.Registry) (Backend, error) {
	switch cfg.Backend {
	case "containerd":
		return newContainerdBackend(cfg, runtimes)
	case "docker":
		return newDockerBackend(runtimes)
	case "", "auto":
		if goruntime.GOOS == "linux" {
			backend, err := newContainerdBackend(cfg, runtimes)
			if err == nil {
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, falling back to docker")
		}
		return newDockerBackend(runtimes)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

func newContainerdBackend(cfg config.SandboxConfig, runtimes *runtime.Registry) (Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewClient(ctx, cfg.ContainerdSocket, cfg.Namespace)
	if err != nil {
		return nil, err
	}
	log.Info().Str("socket", cfg.ContainerdSocket).Str("namespace", cfg.Namespace).Msg("using containerd backend")
	runner := NewRunner(client, runtimes)

	// Warm the image cache so the first submission per language does
	// not pay for the pull.
	go func() {
		for _, ref := range runtimes.Images() {
			if _, err := client.PullImage(context.Background(), ref); err != nil {
				log.Warn().Err(err).Str("image", ref).Msg("image prefetch failed")
			}
		}
	}()

	return runner, nil
}

func newDockerBackend(runtimes *runtime.Registry) (Backend, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker CLI not found in PATH: %w", err)
	}
	log.Info().Msg("using docker backend")
	return NewDockerRunner(runtimes), nil
}
