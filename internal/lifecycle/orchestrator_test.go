package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorak1103/petbox/internal/config"
	"github.com/zorak1103/petbox/internal/engine"
	apperrors "github.com/zorak1103/petbox/internal/errors"
)

const testContainerName = "toolbox-alice"

var errBoom = errors.New("boom")

// mockEngine implements engine.Client for testing. It keeps a tiny state
// model: CreateContainer makes the container visible in configured state,
// StartContainer moves it to running.
type mockEngine struct {
	imageExists bool
	runLabel    string
	container   *engine.Container // nil means the name is unknown to the engine
	failOn      string            // operation name that should fail

	attachExit    int
	execExitQueue []int      // exit codes handed out per Exec call, default 0
	execCmds      [][]string // every command passed to Exec

	pullCalls   int
	createCalls int
	startCalls  int
	stopCalls   int
	attachCalls int

	createdOpts engine.CreateOptions
}

var _ engine.Client = (*mockEngine)(nil)

func (m *mockEngine) Ping(_ context.Context) error { return nil }
func (m *mockEngine) Close() error                 { return nil }

func (m *mockEngine) ImageExists(_ context.Context, _ string) (bool, error) {
	if m.failOn == "image-inspect" {
		return false, errBoom
	}
	return m.imageExists, nil
}

func (m *mockEngine) PullImage(_ context.Context, _ string) error {
	m.pullCalls++
	if m.failOn == "pull" {
		return errBoom
	}
	m.imageExists = true
	return nil
}

func (m *mockEngine) ImageRunLabel(_ context.Context, _ string) (string, error) {
	if m.failOn == "runlabel-lookup" {
		return "", errBoom
	}
	return m.runLabel, nil
}

func (m *mockEngine) InspectContainer(_ context.Context, name string) (*engine.Container, error) {
	if m.failOn == "inspect" {
		return nil, errBoom
	}
	if m.container == nil {
		return nil, engine.ErrNotFound
	}
	ctr := *m.container
	ctr.Name = name
	return &ctr, nil
}

func (m *mockEngine) CreateContainer(_ context.Context, name, _ string, opts engine.CreateOptions) error {
	m.createCalls++
	m.createdOpts = opts
	if m.failOn == "create" {
		return errBoom
	}
	m.container = &engine.Container{
		ID:        "deadbeef",
		Name:      name,
		State:     engine.StateConfigured,
		RawStatus: "configured",
	}
	return nil
}

func (m *mockEngine) StartContainer(_ context.Context, _ string) error {
	m.startCalls++
	if m.failOn == "start" {
		return errBoom
	}
	m.container.State = engine.StateRunning
	m.container.RawStatus = "running"
	return nil
}

func (m *mockEngine) StopContainer(_ context.Context, _ string) error {
	m.stopCalls++
	if m.failOn == "stop" {
		return errBoom
	}
	return nil
}

func (m *mockEngine) Exec(_ context.Context, _ string, cfg engine.ExecConfig) (int, string, error) {
	m.execCmds = append(m.execCmds, cfg.Cmd)
	if m.failOn == "exec" {
		return -1, "", errBoom
	}
	code := 0
	if len(m.execExitQueue) > 0 {
		code = m.execExitQueue[0]
		m.execExitQueue = m.execExitQueue[1:]
	}
	return code, "step output", nil
}

func (m *mockEngine) AttachExec(_ context.Context, _ string, _ engine.ExecConfig, _ engine.AttachStreams) (int, error) {
	m.attachCalls++
	if m.failOn == "attach" {
		return -1, errBoom
	}
	return m.attachExit, nil
}

// recordingRunner implements LabelRunner for run-label path tests.
type recordingRunner struct {
	calls    int
	commands []string
	exit     int
	err      error
}

func (r *recordingRunner) Run(_ context.Context, command string) (int, error) {
	r.calls++
	r.commands = append(r.commands, command)
	return r.exit, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		Image: config.ImageConfig{
			Registry:   "registry.example.com",
			Repository: "tools:latest",
		},
		Container: config.ContainerConfig{
			Name:        testContainerName,
			Shell:       "/bin/zsh", // host shell, deliberately not the provisioning login shell
			NetworkMode: "host",
			Volumes:     []string{"/home/alice:/home/alice"},
		},
		Provision: config.ProvisionConfig{
			EscalationGroup: "wheel",
			SudoersFile:     "/etc/sudoers.d/petbox",
		},
	}
}

func newTestOrchestrator(mock *mockEngine, runner LabelRunner) *Orchestrator {
	orch := New(mock, testConfig(), testContainerName, nil, runner)
	orch.SetStreams(engine.AttachStreams{}, &bytes.Buffer{})
	return orch
}

func TestEnsureRunning_StateTable(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		expectStart bool
		expectErr   bool
	}{
		{"configured issues start", "configured", true, false},
		{"created issues start", "created", true, false},
		{"exited issues start", "exited", true, false},
		{"stopped issues start", "stopped", true, false},
		{"running is a no-op", "running", false, false},
		{"paused is fatal", "paused", false, true},
		{"garbage is fatal", "restarting maybe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEngine{
				container: &engine.Container{
					Name:      testContainerName,
					State:     engine.ParseState(tt.status),
					RawStatus: tt.status,
				},
			}
			orch := newTestOrchestrator(mock, nil)

			err := orch.EnsureRunning(context.Background())

			if tt.expectErr {
				require.Error(t, err)
				var stateErr *apperrors.UnknownStateError
				assert.ErrorAs(t, err, &stateErr)
				assert.Equal(t, tt.status, stateErr.Status)
			} else {
				require.NoError(t, err)
			}

			if tt.expectStart {
				assert.Equal(t, 1, mock.startCalls)
			} else {
				assert.Equal(t, 0, mock.startCalls)
			}
		})
	}
}

func TestEnsureImage_PullsOnlyOnMiss(t *testing.T) {
	mock := &mockEngine{imageExists: true}
	orch := newTestOrchestrator(mock, nil)

	require.NoError(t, orch.EnsureImage(context.Background()))
	assert.Equal(t, 0, mock.pullCalls)

	mock.imageExists = false
	require.NoError(t, orch.EnsureImage(context.Background()))
	assert.Equal(t, 1, mock.pullCalls)
}

func TestEnsureImage_PullFailureIsFatal(t *testing.T) {
	mock := &mockEngine{failOn: "pull"}
	orch := newTestOrchestrator(mock, nil)

	err := orch.EnsureImage(context.Background())

	require.Error(t, err)
	var engineErr *apperrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "pull", engineErr.Operation)
	assert.Equal(t, 1, mock.pullCalls)
}

func TestEnsureContainer_RunLabelBypassesCreation(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		runLabel:    "engine run --name $NAME $IMAGE",
	}
	runner := &recordingRunner{exit: 7}
	orch := newTestOrchestrator(mock, runner)

	outcome, code, err := orch.EnsureContainer(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, OutcomeRunLabel, outcome)
	assert.Equal(t, 7, code)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "engine run --name toolbox-alice registry.example.com/tools:latest", runner.commands[0])
	assert.Equal(t, 0, mock.createCalls, "run-label path must not also create")
}

func TestEnsureContainer_RunLabelFailureIsFatal(t *testing.T) {
	mock := &mockEngine{runLabel: "broken $IMAGE"}
	runner := &recordingRunner{exit: 1, err: errBoom}
	orch := newTestOrchestrator(mock, runner)

	_, _, err := orch.EnsureContainer(context.Background(), Options{})

	require.Error(t, err)
	var engineErr *apperrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "runlabel", engineErr.Operation)
}

func TestEnsureContainer_ExistingContainerIsReused(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		runLabel:    "engine run $IMAGE", // label must be irrelevant when the container exists
		container: &engine.Container{
			Name:      testContainerName,
			State:     engine.StateRunning,
			RawStatus: "running",
		},
	}
	runner := &recordingRunner{}
	orch := newTestOrchestrator(mock, runner)

	outcome, _, err := orch.EnsureContainer(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, OutcomeReused, outcome)
	assert.Equal(t, 0, mock.createCalls)
	assert.Equal(t, 0, runner.calls)
}

func TestEnsureContainer_CreateOptions(t *testing.T) {
	mock := &mockEngine{imageExists: true}
	orch := newTestOrchestrator(mock, nil)

	outcome, _, err := orch.EnsureContainer(context.Background(), Options{Root: true})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, testContainerName, mock.createdOpts.Hostname)
	assert.Equal(t, "host", mock.createdOpts.NetworkMode)
	assert.True(t, mock.createdOpts.Privileged)
	assert.True(t, mock.createdOpts.DisableSELinuxLabel)
	assert.Equal(t, []string{"/home/alice:/home/alice"}, mock.createdOpts.Binds)
	assert.Equal(t, []string{"sleep", "infinity"}, mock.createdOpts.Entrypoint)
}

func TestRun_FullLifecycleScenario(t *testing.T) {
	// name=toolbox-alice, image absent, container absent, no run label:
	// pull once, create once, start once, attach once, stop once at exit.
	mock := &mockEngine{}
	orch := newTestOrchestrator(mock, &recordingRunner{})

	code, err := orch.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, mock.pullCalls)
	assert.Equal(t, 1, mock.createCalls)
	assert.Equal(t, 1, mock.startCalls)
	assert.Equal(t, 1, mock.attachCalls)
	assert.Equal(t, 1, mock.stopCalls)
}

func TestRun_ExistingRunningContainer(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		container: &engine.Container{
			Name:      testContainerName,
			State:     engine.StateRunning,
			RawStatus: "running",
		},
	}
	orch := newTestOrchestrator(mock, nil)

	code, err := orch.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 0, mock.pullCalls)
	assert.Equal(t, 0, mock.createCalls)
	assert.Equal(t, 0, mock.startCalls)
	assert.Equal(t, 1, mock.attachCalls)
}

func TestRun_UnknownStateAborts(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		container: &engine.Container{
			Name:      testContainerName,
			State:     engine.StateUnknown,
			RawStatus: "paused",
		},
	}
	orch := newTestOrchestrator(mock, nil)

	code, err := orch.Run(context.Background(), Options{})

	require.Error(t, err)
	assert.Equal(t, 1, code)
	var stateErr *apperrors.UnknownStateError
	assert.ErrorAs(t, err, &stateErr)
	assert.Equal(t, 0, mock.attachCalls, "attach must never run after an unknown state")
	assert.Equal(t, 1, mock.stopCalls, "cleanup still runs on fatal abort")
}

func TestRun_SessionExitCodePropagates(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		container: &engine.Container{
			Name:      testContainerName,
			State:     engine.StateRunning,
			RawStatus: "running",
		},
		attachExit: 42,
	}
	orch := newTestOrchestrator(mock, nil)

	code, err := orch.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 42, code)
}

func TestRun_RunLabelIsTerminal(t *testing.T) {
	mock := &mockEngine{
		imageExists: true,
		runLabel:    "engine run --name ${NAME} ${IMAGE}",
	}
	runner := &recordingRunner{}
	orch := newTestOrchestrator(mock, runner)

	code, err := orch.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, mock.createCalls)
	assert.Equal(t, 0, mock.startCalls)
	assert.Equal(t, 0, mock.attachCalls)
	assert.Equal(t, 1, mock.stopCalls, "cleanup runs even on the run-label path")
}

func TestRun_StopExactlyOnce(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
	}{
		{"normal session", ""},
		{"fatal pull", "pull"},
		{"fatal create", "create"},
		{"fatal start", "start"},
		{"fatal attach", "attach"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEngine{failOn: tt.failOn}
			orch := newTestOrchestrator(mock, &recordingRunner{})

			_, _ = orch.Run(context.Background(), Options{})

			assert.Equal(t, 1, mock.stopCalls)

			// A second explicit Stop is still a single engine call.
			orch.Stop()
			assert.Equal(t, 1, mock.stopCalls)
		})
	}
}

func TestRun_ProvisionOnlyOnFirstCreationInUserMode(t *testing.T) {
	alice := UserSpec{UID: 1000, GID: 1000, Username: "alice", Group: "alice", Home: "/home/alice"}

	t.Run("new container in user mode provisions", func(t *testing.T) {
		mock := &mockEngine{imageExists: true}
		orch := newTestOrchestrator(mock, nil)

		_, err := orch.Run(context.Background(), Options{UserMode: true, User: alice})

		require.NoError(t, err)
		assert.NotEmpty(t, mock.execCmds)
	})

	t.Run("reused container in user mode does not provision", func(t *testing.T) {
		mock := &mockEngine{
			imageExists: true,
			container: &engine.Container{
				Name:      testContainerName,
				State:     engine.StateRunning,
				RawStatus: "running",
			},
		}
		orch := newTestOrchestrator(mock, nil)

		_, err := orch.Run(context.Background(), Options{UserMode: true, User: alice})

		require.NoError(t, err)
		assert.Empty(t, mock.execCmds)
	})

	t.Run("new container without user mode does not provision", func(t *testing.T) {
		mock := &mockEngine{imageExists: true}
		orch := newTestOrchestrator(mock, nil)

		_, err := orch.Run(context.Background(), Options{})

		require.NoError(t, err)
		assert.Empty(t, mock.execCmds)
	})
}

func TestSubstituteRunLabel(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
	}{
		{
			name:  "dollar tokens",
			label: "engine run --name $NAME $IMAGE",
			want:  "engine run --name box registry.example.com/tools:latest",
		},
		{
			name:  "braced tokens",
			label: "engine run --name ${NAME} ${IMAGE}",
			want:  "engine run --name box registry.example.com/tools:latest",
		},
		{
			name:  "no tokens",
			label: "echo hello",
			want:  "echo hello",
		},
		{
			name:  "surrounding whitespace trimmed",
			label: "  engine run $IMAGE  ",
			want:  "engine run registry.example.com/tools:latest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubstituteRunLabel(tt.label, "registry.example.com/tools:latest", "box")
			assert.Equal(t, tt.want, got)
		})
	}
}
