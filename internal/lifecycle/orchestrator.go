// Package lifecycle implements the pet container lifecycle orchestration:
// ensure the image is present, ensure the container exists and is running,
// optionally provision a user, attach a session, and stop the container on exit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zorak1103/petbox/internal/config"
	"github.com/zorak1103/petbox/internal/engine"
	apperrors "github.com/zorak1103/petbox/internal/errors"
)

// stopTimeout bounds the best-effort stop on exit. It runs on a fresh
// context because the session context is usually already cancelled by then.
const stopTimeout = 30 * time.Second

// UserSpec identifies the host user to recreate inside the container.
type UserSpec struct {
	UID      int
	GID      int
	Username string
	Group    string
	Home     string
}

// Options controls a single orchestrator run.
type Options struct {
	Root     bool     // privileged container, session runs as root
	UserMode bool     // provision and run as the invoking host user
	Command  []string // command vector; empty means interactive shell
	User     UserSpec // resolved host user, used when UserMode is set
}

// Outcome reports how EnsureContainer satisfied its contract.
type Outcome int

const (
	// OutcomeReused means the named container already existed.
	OutcomeReused Outcome = iota
	// OutcomeCreated means a new container was created this run.
	OutcomeCreated
	// OutcomeRunLabel means the image's run label was executed instead of
	// creating a container. This is a terminal success path.
	OutcomeRunLabel
)

// Notifier delivers optional session audit events. Implementations must be
// safe to call with notifications disabled.
type Notifier interface {
	SendSessionEvent(event, containerName string) error
}

// LabelRunner executes an image run-label command on the host.
type LabelRunner interface {
	Run(ctx context.Context, command string) (int, error)
}

// Orchestrator sequences the pet container lifecycle for one named container.
// One orchestrator instance manages one container name per run.
type Orchestrator struct {
	engine   engine.Client
	cfg      *config.Config
	name     string // container name, tag suffix already applied
	notifier Notifier
	runner   LabelRunner
	streams  engine.AttachStreams
	out      io.Writer // status line sink

	stopOnce sync.Once
}

// New builds an orchestrator for the given container name. The notifier may
// be nil when notifications are disabled.
func New(eng engine.Client, cfg *config.Config, name string, notifier Notifier, runner LabelRunner) *Orchestrator {
	if runner == nil {
		runner = NewShellRunner()
	}
	return &Orchestrator{
		engine:   eng,
		cfg:      cfg,
		name:     name,
		notifier: notifier,
		runner:   runner,
		streams: engine.AttachStreams{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		},
		out: os.Stderr,
	}
}

// SetStreams overrides the session I/O streams (used by tests).
func (o *Orchestrator) SetStreams(streams engine.AttachStreams, out io.Writer) {
	o.streams = streams
	o.out = out
}

// Run drives the full lifecycle and returns the exit code to propagate.
// The best-effort stop runs exactly once on every exit path.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (int, error) {
	defer o.Stop()

	if err := o.EnsureImage(ctx); err != nil {
		return 1, err
	}

	outcome, labelExit, err := o.EnsureContainer(ctx, opts)
	if err != nil {
		return 1, err
	}
	if outcome == OutcomeRunLabel {
		return labelExit, nil
	}

	if err := o.EnsureRunning(ctx); err != nil {
		return 1, err
	}

	if outcome == OutcomeCreated && opts.UserMode {
		if err := o.ProvisionUser(ctx, opts.User); err != nil {
			return 1, err
		}
	}

	o.notify("session attached", opts)
	code, err := o.Attach(ctx, opts)
	o.notify("session ended", opts)
	if err != nil {
		return 1, err
	}
	return code, nil
}

// EnsureImage makes sure image metadata exists locally, pulling on a miss.
// Pull failure is fatal; there are no retries.
func (o *Orchestrator) EnsureImage(ctx context.Context) error {
	ref := o.cfg.ImageRef()

	exists, err := o.engine.ImageExists(ctx, ref)
	if err != nil {
		return &apperrors.EngineError{Operation: "image inspect", Resource: ref, Err: err}
	}
	if exists {
		return nil
	}

	fmt.Fprintf(o.out, "📥 Pulling image %s...\n", ref)
	if err := o.engine.PullImage(ctx, ref); err != nil {
		return &apperrors.EngineError{Operation: "pull", Resource: ref, Err: err}
	}
	return nil
}

// EnsureContainer makes sure the named container exists. When the container
// is absent and the image declares a run label, the label command is executed
// on the host instead and its exit code returned; nothing else runs after
// that. A container is created at most once per invocation and never removed.
func (o *Orchestrator) EnsureContainer(ctx context.Context, opts Options) (Outcome, int, error) {
	ref := o.cfg.ImageRef()

	_, err := o.engine.InspectContainer(ctx, o.name)
	if err == nil {
		fmt.Fprintf(o.out, "♻️  Reusing existing container %s\n", o.name)
		return OutcomeReused, 0, nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return OutcomeReused, 0, &apperrors.EngineError{Operation: "inspect", Resource: o.name, Err: err}
	}

	label, err := o.engine.ImageRunLabel(ctx, ref)
	if err != nil {
		return OutcomeReused, 0, &apperrors.EngineError{Operation: "runlabel lookup", Resource: ref, Err: err}
	}
	if label != "" {
		command := SubstituteRunLabel(label, ref, o.name)
		fmt.Fprintf(o.out, "🏷️  Image declares a run label, executing: %s\n", command)
		code, err := o.runner.Run(ctx, command)
		if err != nil {
			return OutcomeRunLabel, code, &apperrors.EngineError{Operation: "runlabel", Resource: ref, Err: err}
		}
		return OutcomeRunLabel, code, nil
	}

	fmt.Fprintf(o.out, "📦 Creating container %s from %s\n", o.name, ref)
	if err := o.engine.CreateContainer(ctx, o.name, ref, o.createOptions(opts)); err != nil {
		return OutcomeCreated, 0, &apperrors.EngineError{Operation: "create", Resource: o.name, Err: err}
	}
	o.notify("container created", opts)
	return OutcomeCreated, 0, nil
}

// EnsureRunning makes sure the named container is running. Configured,
// exited, and stopped containers are started; a running container is a
// no-op; any other state is fatal.
func (o *Orchestrator) EnsureRunning(ctx context.Context) error {
	ctr, err := o.engine.InspectContainer(ctx, o.name)
	if err != nil {
		return &apperrors.EngineError{Operation: "inspect", Resource: o.name, Err: err}
	}

	switch {
	case ctr.State == engine.StateRunning:
		return nil
	case ctr.State.Stopped():
		if err := o.engine.StartContainer(ctx, o.name); err != nil {
			return &apperrors.EngineError{Operation: "start", Resource: o.name, Err: err}
		}
		return nil
	default:
		return &apperrors.UnknownStateError{Container: o.name, Status: ctr.RawStatus}
	}
}

// Attach runs the session command inside the container and blocks until it
// ends, returning the contained command's exit code. An empty command vector
// defaults to an interactive login shell.
func (o *Orchestrator) Attach(ctx context.Context, opts Options) (int, error) {
	command := opts.Command
	if len(command) == 0 {
		command = []string{o.cfg.Container.Shell, "-l"}
	}

	execCfg := engine.ExecConfig{
		Cmd: command,
		Env: forwardedEnv(),
		TTY: true,
	}
	switch {
	case opts.UserMode:
		execCfg.User = fmt.Sprintf("%d:%d", opts.User.UID, opts.User.GID)
		execCfg.WorkDir = opts.User.Home
	case opts.Root:
		execCfg.User = "0:0"
	}

	code, err := o.engine.AttachExec(ctx, o.name, execCfg, o.streams)
	if err != nil {
		return code, &apperrors.EngineError{Operation: "exec", Resource: o.name, Err: err}
	}
	return code, nil
}

// Stop performs the best-effort stop. It runs at most once per orchestrator
// lifetime and discards failures, since the container may legitimately
// already be stopped (or never have been created).
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = o.engine.StopContainer(ctx, o.name)
	})
}

func (o *Orchestrator) createOptions(opts Options) engine.CreateOptions {
	binds := make([]string, 0, len(o.cfg.Container.Volumes))
	for _, vol := range o.cfg.Container.Volumes {
		binds = append(binds, os.ExpandEnv(vol))
	}
	return engine.CreateOptions{
		Hostname:            o.name,
		NetworkMode:         o.cfg.Container.NetworkMode,
		Privileged:          opts.Root,
		DisableSELinuxLabel: true,
		Binds:               binds,
		Entrypoint:          []string{"sleep", "infinity"},
	}
}

// notify sends a session audit event when notifications are configured.
// Delivery failures never affect the lifecycle.
func (o *Orchestrator) notify(event string, _ Options) {
	if o.notifier == nil {
		return
	}
	_ = o.notifier.SendSessionEvent(event, o.name)
}

// forwardedEnv collects the locale, terminal, display, and auth-socket
// variables forwarded into the session, skipping the ones unset on the host.
func forwardedEnv() []string {
	var env []string
	for _, key := range []string{"TERM", "LANG", "LC_ALL", "DISPLAY", "SSH_AUTH_SOCK"} {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	return env
}
