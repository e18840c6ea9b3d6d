package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// SubstituteRunLabel expands the IMAGE and NAME tokens of a run-label command.
// Both $VAR and ${VAR} spellings are accepted, matching the runlabel
// convention of the engines that write these labels.
func SubstituteRunLabel(label, imageRef, containerName string) string {
	replacer := strings.NewReplacer(
		"${IMAGE}", imageRef,
		"$IMAGE", imageRef,
		"${NAME}", containerName,
		"$NAME", containerName,
	)
	return strings.TrimSpace(replacer.Replace(label))
}

// ShellRunner executes run-label commands through the host shell with the
// invoking terminal's streams attached.
type ShellRunner struct {
	shell string
}

// Compile-time verification that ShellRunner implements LabelRunner
var _ LabelRunner = (*ShellRunner)(nil)

// NewShellRunner returns a runner backed by /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{shell: "/bin/sh"}
}

// Run executes the command and returns its exit code. A non-zero exit is
// reported through the code, not the error; the error is reserved for the
// command failing to run at all.
func (r *ShellRunner) Run(ctx context.Context, command string) (int, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}
