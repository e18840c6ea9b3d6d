package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/term"
)

// resizePollInterval is how often the attached session checks the local
// terminal for a window size change. Polling is used instead of SIGWINCH so
// the same code path works on every platform the engine client supports.
const resizePollInterval = 250 * time.Millisecond

func (e *engineClient) AttachExec(ctx context.Context, name string, cfg ExecConfig, streams AttachStreams) (int, error) {
	tty := cfg.TTY && streams.Stdin != nil && term.IsTerminal(int(streams.Stdin.Fd()))

	execResp, err := e.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		User:         cfg.User,
		WorkingDir:   cfg.WorkDir,
		Env:          cfg.Env,
		Cmd:          cfg.Cmd,
		Tty:          tty,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec in container %s: %w", name, err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return -1, fmt.Errorf("failed to attach exec in container %s: %w", name, err)
	}
	defer attach.Close()

	if tty {
		fd := int(streams.Stdin.Fd())
		oldState, rawErr := term.MakeRaw(fd)
		if rawErr != nil {
			return -1, fmt.Errorf("failed to switch terminal to raw mode: %w", rawErr)
		}
		// Restore must run before the exit code is reported, or the caller's
		// diagnostics end up garbled on a raw terminal.
		defer func() { _ = term.Restore(fd, oldState) }()

		resizeCtx, cancelResize := context.WithCancel(ctx)
		defer cancelResize()
		go e.keepResized(resizeCtx, execResp.ID, fd)
	}

	if err := streamSession(ctx, attach, tty, streams); err != nil {
		return -1, fmt.Errorf("session stream to container %s broke: %w", name, err)
	}

	exitCode, err := e.waitExec(ctx, execResp.ID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec in container %s: %w", name, err)
	}
	return exitCode, nil
}

// streamSession pumps local stdin into the attached connection and the
// session's output back out, blocking until the contained command ends or
// ctx is cancelled. The hijacked connection's lifetime is independent of ctx
// once attached, so a watcher closes it on cancellation to unblock the
// copies; an interrupt therefore ends the session instead of being swallowed.
func streamSession(ctx context.Context, attach types.HijackedResponse, tty bool, streams AttachStreams) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-watchDone:
		}
	}()

	// Forward local stdin into the session. The copy ends when the user's
	// session closes the connection; its error is not meaningful then.
	go func() {
		_, _ = io.Copy(attach.Conn, streams.Stdin)
		_ = attach.CloseWrite()
	}()

	var err error
	if tty {
		_, err = io.Copy(streams.Stdout, attach.Reader)
	} else {
		_, err = stdcopy.StdCopy(streams.Stdout, streams.Stderr, attach.Reader)
	}
	// A cancelled context closes the connection underneath the copy; report
	// the cancellation, not the induced read error.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// keepResized propagates local terminal size changes to the exec's pseudo-TTY
// until ctx is cancelled.
func (e *engineClient) keepResized(ctx context.Context, execID string, fd int) {
	var lastW, lastH int
	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()

	for {
		w, h, err := term.GetSize(fd)
		if err == nil && (w != lastW || h != lastH) {
			lastW, lastH = w, h
			// Resize failures are transient (the exec may not be fully
			// started yet); the next tick retries.
			_ = e.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
				Height: uint(h),
				Width:  uint(w),
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
