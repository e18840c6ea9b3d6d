package engine

import "os"

// State is the closed set of container states the lifecycle understands.
// Anything the engine reports outside this set decodes to StateUnknown.
type State int

const (
	// StateUnknown marks a status string the lifecycle does not recognize.
	StateUnknown State = iota
	// StateConfigured is a container that has been created but never started.
	StateConfigured
	// StateRunning is a container with a live init process.
	StateRunning
	// StateExited is a container whose init process has terminated.
	StateExited
	// StateStopped is a container that was explicitly stopped.
	StateStopped
)

// ParseState decodes the engine's status text into a State.
// The engine spells the never-started state either "configured" or "created"
// depending on the runtime; both decode to StateConfigured.
func ParseState(status string) State {
	switch status {
	case "configured", "created":
		return StateConfigured
	case "running":
		return StateRunning
	case "exited":
		return StateExited
	case "stopped":
		return StateStopped
	default:
		return StateUnknown
	}
}

// String returns the canonical status text for a State.
func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stopped reports whether a start is required to reach StateRunning.
func (s State) Stopped() bool {
	return s == StateConfigured || s == StateExited || s == StateStopped
}

// Container represents a pet container with relevant metadata
type Container struct {
	ID        string
	Name      string
	State     State
	RawStatus string // status text as reported by the engine
	Image     string
	Labels    map[string]string
}

// CreateOptions contains options for container creation
type CreateOptions struct {
	Hostname            string
	NetworkMode         string
	Privileged          bool
	DisableSELinuxLabel bool
	Binds               []string // host:container[:opts] volume binds
	Entrypoint          []string // keepalive entrypoint so the pet container stays up
}

// ExecConfig describes a command to run inside a container
type ExecConfig struct {
	Cmd     []string
	User    string // uid:gid, empty for container default
	WorkDir string
	Env     []string // KEY=VALUE pairs forwarded into the session
	TTY     bool
}

// AttachStreams bundles the I/O file descriptors for an interactive session.
type AttachStreams struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}
