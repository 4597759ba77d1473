package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	containerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "container_duration_seconds",
		Help:      "Duration of local container stages",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	containerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "container_timeouts_total",
		Help:      "Number of local container stages that hit the timeout",
	}, []string{"image"})
)

const workspaceDir = "/workspace"

// dockerRuntime describes how one sandbox language runs in a local container.
type dockerRuntime struct {
	Image   string
	Version string
	Compile string
	Run     string
}

var dockerRuntimes = map[string]dockerRuntime{
	"python":     {Image: "python:3.11-alpine", Version: "3.11", Run: "python3 main.py < stdin.txt"},
	"javascript": {Image: "node:20-alpine", Version: "20", Run: "node main.js < stdin.txt"},
	"go":         {Image: "golang:1.22-alpine", Version: "1.22", Compile: "go build -o main.bin main.go", Run: "./main.bin < stdin.txt"},
	"sqlite3":    {Image: "keinos/sqlite3:3.46.1", Version: "3.46.1", Run: "cat main.sql stdin.txt | sqlite3 -bail :memory:"},
}

// DockerConfig configures the local container transport.
type DockerConfig struct {
	Host          string
	MemoryLimitMB int64
	CPUShares     int64
	ScratchDir    string
	Logger        zerolog.Logger
}

type containerSpec struct {
	Image     string
	Command   string
	Workspace string
	Timeout   time.Duration
}

// DockerTransport runs submissions in throwaway local containers with networking
// disabled. It speaks the same stage model as the HTTP sandbox.
type DockerTransport struct {
	client *client.Client
	cfg    DockerConfig
	logger zerolog.Logger
	run    func(ctx context.Context, spec containerSpec) (StageResult, error)
}

// NewDockerTransport connects to the Docker daemon.
func NewDockerTransport(cfg DockerConfig) (*DockerTransport, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.MemoryLimitMB == 0 {
		cfg.MemoryLimitMB = 256
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	t := &DockerTransport{
		client: cli,
		cfg:    cfg,
		logger: logger.With().Str("component", "docker_transport").Logger(),
	}
	t.run = t.runContainer
	return t, nil
}

// Runtimes implements Transport with the static image table.
func (t *DockerTransport) Runtimes(context.Context) ([]Runtime, error) {
	runtimes := make([]Runtime, 0, len(dockerRuntimes))
	for language, rt := range dockerRuntimes {
		runtimes = append(runtimes, Runtime{Language: language, Version: rt.Version})
	}
	sort.Slice(runtimes, func(i, j int) bool { return runtimes[i].Language < runtimes[j].Language })
	return runtimes, nil
}

// Execute implements Transport.
func (t *DockerTransport) Execute(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	rt, ok := dockerRuntimes[req.Language]
	if !ok {
		return TransportResponse{}, fmt.Errorf("docker transport: %w: %s", ErrUnsupportedLanguage, req.Language)
	}

	workspace, err := os.MkdirTemp(t.cfg.ScratchDir, "gema-run-*")
	if err != nil {
		return TransportResponse{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	for _, file := range req.Files {
		if err := os.WriteFile(filepath.Join(workspace, filepath.Base(file.Name)), []byte(file.Content), 0o644); err != nil {
			return TransportResponse{}, fmt.Errorf("write %s: %w", file.Name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(workspace, "stdin.txt"), []byte(req.Stdin), 0o644); err != nil {
		return TransportResponse{}, fmt.Errorf("write stdin: %w", err)
	}

	resp := TransportResponse{Language: req.Language, Version: rt.Version}

	if rt.Compile != "" {
		compile, err := t.run(ctx, containerSpec{
			Image:     rt.Image,
			Command:   rt.Compile,
			Workspace: workspace,
			Timeout:   req.CompileTimeout,
		})
		if err != nil {
			return TransportResponse{}, err
		}
		resp.Compile = &compile
		if compile.ExitCode() != 0 {
			return resp, nil
		}
	}

	run, err := t.run(ctx, containerSpec{
		Image:     rt.Image,
		Command:   rt.Run,
		Workspace: workspace,
		Timeout:   req.RunTimeout,
	})
	if err != nil {
		return TransportResponse{}, err
	}
	resp.Run = run
	return resp, nil
}

func (t *DockerTransport) runContainer(parent context.Context, spec containerSpec) (StageResult, error) {
	ctx := parent
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, spec.Timeout)
		defer cancel()
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    t.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: t.cfg.CPUShares,
		},
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Workspace,
			Target: workspaceDir,
		}},
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          []string{"sh", "-c", spec.Command},
		WorkingDir:   workspaceDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()
	created, err := t.client.ContainerCreate(parent, config, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return StageResult{}, &TransientError{Err: fmt.Errorf("container create: %w", err)}
	}

	containerID := created.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			t.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := t.client.ContainerStart(parent, containerID, container.StartOptions{}); err != nil {
		return StageResult{}, &TransientError{Err: fmt.Errorf("container start: %w", err)}
	}

	statusCh, errCh := t.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	result := StageResult{}
	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		code := int(status.StatusCode)
		result.Code = &code
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	containerDuration.WithLabelValues(spec.Image).Observe(time.Since(start).Seconds())

	if waitErr != nil {
		if parent.Err() != nil {
			return StageResult{}, parent.Err()
		}
		if !errors.Is(waitErr, context.DeadlineExceeded) {
			return StageResult{}, &TransientError{Err: fmt.Errorf("container wait: %w", waitErr)}
		}

		containerTimeouts.WithLabelValues(spec.Image).Inc()
		killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := t.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			t.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
		}
		result.Signal = "SIGKILL"
		result.Status = "TO"
	}

	logReader, err := t.client.ContainerLogs(parent, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		t.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return result, nil
	}
	defer logReader.Close()

	stdout, stderr, err := splitDockerLogs(logReader)
	if err != nil {
		t.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		return result, nil
	}
	result.Stdout = stdout
	result.Stderr = stderr
	result.Output = stdout + stderr
	return result, nil
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close releases the Docker client.
func (t *DockerTransport) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}
