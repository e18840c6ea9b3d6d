package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zorak1103/petbox/internal/engine"
	apperrors "github.com/zorak1103/petbox/internal/errors"
)

// shadow-utils exit codes meaning "the group/user is already there".
// groupadd and useradd report 9 for a name in use and 4 for a gid/uid in use;
// both mean a previous provisioning run already did the work.
var alreadyExistsExitCodes = map[int]bool{
	4: true,
	9: true,
}

// installSudoScript installs the privilege-escalation package with whichever
// package manager the container image ships. A missing package manager is a
// real failure and propagates.
const installSudoScript = `
if command -v sudo >/dev/null 2>&1; then exit 0; fi
if command -v dnf >/dev/null 2>&1; then dnf install -y sudo
elif command -v microdnf >/dev/null 2>&1; then microdnf install -y sudo
elif command -v yum >/dev/null 2>&1; then yum install -y sudo
elif command -v apt-get >/dev/null 2>&1; then apt-get update && apt-get install -y sudo
elif command -v apk >/dev/null 2>&1; then apk add --no-cache sudo
else echo "no supported package manager found" >&2; exit 1
fi
`

// loginShell is the login shell given to the provisioned user. The host's
// configured shell may not exist inside the image, so provisioning sticks to
// the one shell every supported image ships.
const loginShell = "/bin/bash"

// provisionStep is one command of the first-creation user setup.
type provisionStep struct {
	name string
	cmd  []string
	// ignoreAlreadyExists suppresses the shadow-utils "already exists" exit
	// codes for idempotent steps. Every other failure propagates.
	ignoreAlreadyExists bool
}

// ProvisionUser recreates the invoking host user inside the container and
// grants it passwordless privilege escalation. It runs only on first
// creation in user mode. Group and user creation are idempotent; package
// install, sudoers policy write, and group membership failures are fatal.
func (o *Orchestrator) ProvisionUser(ctx context.Context, user UserSpec) error {
	fmt.Fprintf(o.out, "👤 Provisioning user %s (uid %d) in %s\n", user.Username, user.UID, o.name)

	group := o.cfg.Provision.EscalationGroup
	sudoersFile := o.cfg.Provision.SudoersFile
	sudoersPolicy := fmt.Sprintf(
		"printf '%%%%%s ALL=(ALL) NOPASSWD: ALL\\n' > %s && chmod 0440 %s",
		group, sudoersFile, sudoersFile,
	)

	steps := []provisionStep{
		{
			name:                "groupadd",
			cmd:                 []string{"groupadd", "-g", strconv.Itoa(user.GID), user.Group},
			ignoreAlreadyExists: true,
		},
		{
			name: "useradd",
			cmd: []string{
				"useradd",
				"-u", strconv.Itoa(user.UID),
				"-g", strconv.Itoa(user.GID),
				"-m",
				"-s", loginShell,
				user.Username,
			},
			ignoreAlreadyExists: true,
		},
		{
			name: "install-sudo",
			cmd:  []string{"sh", "-c", installSudoScript},
		},
		{
			// -f makes an existing escalation group a success, which it is.
			name: "escalation-group",
			cmd:  []string{"groupadd", "-f", group},
		},
		{
			name: "sudoers-policy",
			cmd:  []string{"sh", "-c", sudoersPolicy},
		},
		{
			name: "group-membership",
			cmd:  []string{"usermod", "-aG", group, user.Username},
		},
	}

	for _, step := range steps {
		if err := o.runProvisionStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runProvisionStep(ctx context.Context, step provisionStep) error {
	exitCode, output, err := o.engine.Exec(ctx, o.name, engine.ExecConfig{Cmd: step.cmd})
	if err != nil {
		return &apperrors.ProvisionError{Step: step.name, Err: err}
	}
	if exitCode == 0 {
		return nil
	}
	if step.ignoreAlreadyExists && alreadyExistsExitCodes[exitCode] {
		return nil
	}
	return &apperrors.ProvisionError{Step: step.name, ExitCode: exitCode, Output: output}
}
