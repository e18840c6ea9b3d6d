// Package engine provides a client for driving the container engine API.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// Common errors
var (
	ErrConnectionFailed = errors.New("engine connection failed")
	ErrNotFound         = errors.New("container not found")
)

// Run-label keys checked on the image, in order. The uppercase spelling is
// the original atomic convention; lowercase is what newer tooling writes.
var runLabelKeys = []string{"run", "RUN"}

// Client defines the interface for container engine operations.
// Implementations must provide image management, container lifecycle control,
// and exec support. All methods accept context.Context for cancellation.
type Client interface {
	// Ping verifies the engine daemon is accessible. Returns error if connection fails.
	Ping(ctx context.Context) error
	// Close closes the engine client connection and releases resources.
	Close() error

	// ImageExists reports whether image metadata is present locally.
	ImageExists(ctx context.Context, ref string) (bool, error)
	// PullImage pulls the image from its registry, draining progress output.
	PullImage(ctx context.Context, ref string) error
	// ImageRunLabel returns the image's run-label command, or "" when the
	// image declares none.
	ImageRunLabel(ctx context.Context, ref string) (string, error)

	// InspectContainer looks a container up by name. Returns ErrNotFound
	// when the engine does not know the name.
	InspectContainer(ctx context.Context, name string) (*Container, error)
	// CreateContainer creates a named container in the configured (stopped) state.
	CreateContainer(ctx context.Context, name, ref string, opts CreateOptions) error
	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, name string) error
	// StopContainer stops a running container with the engine's default timeout.
	StopContainer(ctx context.Context, name string) error

	// Exec runs a command inside the container and blocks until it finishes,
	// returning its exit code and combined output.
	Exec(ctx context.Context, name string, cfg ExecConfig) (int, string, error)
	// AttachExec runs a command inside the container with the given streams
	// attached, switching the terminal to raw mode when stdin is a TTY.
	// Blocks until the session ends and returns the command's exit code.
	AttachExec(ctx context.Context, name string, cfg ExecConfig, streams AttachStreams) (int, error)
}

// engineClient implements Client on top of the Docker Engine API.
type engineClient struct {
	cli        *client.Client
	socketPath string
	verbose    io.Writer // pull progress sink, nil to discard
}

// Compile-time verification that engineClient implements Client
var _ Client = (*engineClient)(nil)

// Option configures an engineClient.
type Option func(*engineClient)

// WithProgressWriter echoes image pull progress to w.
func WithProgressWriter(w io.Writer) Option {
	return func(e *engineClient) {
		e.verbose = w
	}
}

// NewClient connects to the engine daemon at socketPath (or default if empty).
func NewClient(socketPath string, opts ...Option) (Client, error) {
	clientOpts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}

	// Add host option if socket path is specified
	if socketPath != "" {
		clientOpts = append(clientOpts, client.WithHost(socketPath))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client for socket %s: %w", socketPath, err)
	}

	ec := &engineClient{
		cli:        cli,
		socketPath: socketPath,
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec, nil
}

func (e *engineClient) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: daemon at %s unreachable: %w", ErrConnectionFailed, e.socketPath, err)
	}
	return nil
}

func (e *engineClient) Close() error {
	return e.cli.Close()
}

func (e *engineClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := e.cli.ImageInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	return true, nil
}

func (e *engineClient) PullImage(ctx context.Context, ref string) error {
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	// Close reader after draining; error not actionable in defer context as stream is already consumed
	defer func() { _ = reader.Close() }()

	// The pull is not complete until the progress stream is drained.
	sink := io.Discard
	if e.verbose != nil {
		sink = e.verbose
	}
	if _, err := io.Copy(sink, reader); err != nil {
		return fmt.Errorf("failed while pulling image %s: %w", ref, err)
	}
	return nil
}

func (e *engineClient) ImageRunLabel(ctx context.Context, ref string) (string, error) {
	inspect, err := e.cli.ImageInspect(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s for run label: %w", ref, err)
	}
	if inspect.Config == nil {
		return "", nil
	}
	for _, key := range runLabelKeys {
		if label, ok := inspect.Config.Labels[key]; ok && label != "" {
			return label, nil
		}
	}
	return "", nil
}

func (e *engineClient) InspectContainer(ctx context.Context, name string) (*Container, error) {
	inspect, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	rawStatus := ""
	if inspect.State != nil {
		rawStatus = inspect.State.Status
	}

	ctr := &Container{
		ID:        inspect.ID,
		Name:      name,
		State:     ParseState(rawStatus),
		RawStatus: rawStatus,
		Image:     inspect.Image,
	}
	if inspect.Config != nil {
		ctr.Labels = inspect.Config.Labels
	}
	return ctr, nil
}

func (e *engineClient) CreateContainer(ctx context.Context, name, ref string, opts CreateOptions) error {
	cfg := &container.Config{
		Hostname:   opts.Hostname,
		Image:      ref,
		Entrypoint: opts.Entrypoint,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(opts.NetworkMode),
		Privileged:  opts.Privileged,
		Binds:       opts.Binds,
	}
	if opts.DisableSELinuxLabel {
		hostCfg.SecurityOpt = []string{"label=disable"}
	}

	if _, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name); err != nil {
		return fmt.Errorf("failed to create container %s from %s: %w", name, ref, err)
	}
	return nil
}

func (e *engineClient) StartContainer(ctx context.Context, name string) error {
	if err := e.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

func (e *engineClient) StopContainer(ctx context.Context, name string) error {
	if err := e.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

func (e *engineClient) Exec(ctx context.Context, name string, cfg ExecConfig) (int, string, error) {
	execResp, err := e.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		User:         cfg.User,
		WorkingDir:   cfg.WorkDir,
		Env:          cfg.Env,
		Cmd:          cfg.Cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", fmt.Errorf("failed to create exec in container %s: %w", name, err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("failed to attach exec in container %s: %w", name, err)
	}
	defer attach.Close()

	// Demultiplex the combined stream; output is kept only for diagnostics.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return -1, buf.String(), fmt.Errorf("failed reading exec output in container %s: %w", name, err)
	}

	exitCode, err := e.waitExec(ctx, execResp.ID)
	if err != nil {
		return -1, buf.String(), fmt.Errorf("failed to inspect exec in container %s: %w", name, err)
	}
	return exitCode, buf.String(), nil
}

// waitExec polls the exec until its process has exited and returns the exit code.
// The output stream reaching EOF almost always means the process is gone; the
// poll covers the brief window where the engine has not yet recorded the exit.
func (e *engineClient) waitExec(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := e.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, err
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
