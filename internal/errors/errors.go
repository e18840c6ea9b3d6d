// Package apperrors provides domain-specific error types for the petbox application.
// These error types include contextual information to aid debugging and error reporting.
package apperrors

import "fmt"

// ConfigurationError represents configuration-related errors.
// It includes the configuration file path and specific key that caused the error.
type ConfigurationError struct {
	ConfigPath string // Path to the configuration file
	Key        string // Configuration key that caused the error
	Err        error  // Underlying error
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("configuration error in %s (key: %s): %v", e.ConfigPath, e.Key, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.ConfigPath, e.Err)
}

// Unwrap returns the underlying error for error wrapping chains.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EngineError represents container engine call failures.
// It names the operation that failed and the resource (image or container) it targeted.
type EngineError struct {
	Operation string // Engine operation that failed (e.g., "pull", "create", "start")
	Resource  string // Image reference or container name the operation targeted
	Err       error  // Underlying error
}

// Error implements the error interface for EngineError.
func (e *EngineError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("engine %s failed for %s: %v", e.Operation, e.Resource, e.Err)
	}
	return fmt.Sprintf("engine %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error wrapping chains.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// UnknownStateError reports a container status string the lifecycle does not recognize.
type UnknownStateError struct {
	Container string // Container name
	Status    string // Raw status text reported by the engine
}

// Error implements the error interface for UnknownStateError.
func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("container %s is in unknown state %q", e.Container, e.Status)
}

// ProvisionError represents a failed user-provisioning step inside the container.
// It carries the step name, the exit code of the contained command, and any
// captured output for diagnostics.
type ProvisionError struct {
	Step     string // Provisioning step that failed (e.g., "useradd", "install-sudo")
	ExitCode int    // Exit code of the command run inside the container
	Output   string // Combined output captured from the command
	Err      error  // Underlying error, if the exec itself failed
}

// Error implements the error interface for ProvisionError.
func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("provisioning step %s failed with exit code %d: %s", e.Step, e.ExitCode, e.Output)
}

// Unwrap returns the underlying error for error wrapping chains.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}
