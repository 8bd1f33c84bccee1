// Package sandbox runs untrusted Python snippets in throwaway Docker containers.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// Label marks containers owned by the runner so leftovers can be reaped.
	Label = "sidekick.sandbox"

	containerUser = "65534" // nobody
	workingDir    = "/tmp"

	// Resource limits.
	memoryLimitBytes = 256 * 1024 * 1024 // 256MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 64

	defaultTimeout = 30 * time.Second
	cleanupTimeout = 10 * time.Second
)

// ErrTimeout is returned when a snippet exceeds its time budget.
var ErrTimeout = errors.New("execution timed out")

// Executor runs Python source and returns its combined output.
type Executor interface {
	Execute(ctx context.Context, code string) (string, error)
}

// Config configures the Docker runner.
type Config struct {
	Image   string
	Runtime string // "" = default (runc), "runsc" = gVisor
	Timeout time.Duration
}

// DockerRunner implements Executor with one container per call.
type DockerRunner struct {
	cli     *client.Client
	image   string
	runtime string
	timeout time.Duration
}

// NewDockerRunner creates a runner using the Docker environment settings.
func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Code runner initialized", "image", cfg.Image, "runtime", runtime, "timeout", timeout)
	return &DockerRunner{cli: cli, image: cfg.Image, runtime: cfg.Runtime, timeout: timeout}, nil
}

// Ping checks that the Docker daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

func (r *DockerRunner) create(ctx context.Context, code string) (string, error) {
	cfg := &container.Config{
		Image:           r.image,
		Cmd:             []string{"python", "-u", "-c", code},
		User:            containerUser,
		WorkingDir:      workingDir,
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "HOME=/tmp"},
		Labels:          map[string]string{Label: "true"},
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Runtime:        r.runtime,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{workingDir: "rw,size=64m"},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil && errdefs.IsNotFound(err) {
		if pullErr := r.pull(ctx); pullErr != nil {
			return "", pullErr
		}
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRunner) pull(ctx context.Context) error {
	slog.Info("Pulling code runner image", "image", r.image)
	rc, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read pull progress for %s: %w", r.image, err)
	}
	return nil
}

// Execute implements Executor.
func (r *DockerRunner) Execute(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := r.create(ctx, code)
	if err != nil {
		return "", err
	}
	defer r.remove(id)

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", id, err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case res := <-statusCh:
		exitCode = res.StatusCode
	case err := <-errCh:
		if ctx.Err() != nil {
			return r.collect(id, true), fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}
		return "", fmt.Errorf("wait for container %s: %w", id, err)
	case <-ctx.Done():
		return r.collect(id, true), fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}

	out := r.collect(id, false)
	slog.Debug("Code run finished", "container_id", id, "exit_code", exitCode, "output_bytes", len(out))
	return out, nil
}

// collect reads the container logs into a bounded buffer.
func (r *DockerRunner) collect(id string, partial bool) string {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Warn("Failed to read container logs", "container_id", id, "error", err)
		return ""
	}
	defer logs.Close()

	buf := NewTailBuffer(DefaultBufferSize)
	if _, err := stdcopy.StdCopy(buf, buf, logs); err != nil && !partial {
		slog.Warn("Failed to demultiplex container logs", "container_id", id, "error", err)
	}
	return FormatOutput(buf)
}

func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return
		}
		slog.Warn("Failed to remove code runner container", "container_id", id, "error", err)
	}
}

// Reap removes labelled containers left behind by a previous process.
func (r *DockerRunner) Reap(ctx context.Context) (int, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", Label+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list sandbox containers: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			slog.Warn("Failed to reap sandbox container", "container_id", c.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Reaped leftover sandbox containers", "count", removed)
	}
	return removed, nil
}

// FormatOutput renders captured output for the model.
func FormatOutput(buf *TailBuffer) string {
	out := buf.String()
	if strings.TrimSpace(out) == "" {
		return NoOutput
	}
	if buf.Truncated() {
		return "...(earlier output truncated)\n" + out
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
