// Package cmd implements the CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zorak1103/petbox/internal/config"
	"github.com/zorak1103/petbox/internal/engine"
	"github.com/zorak1103/petbox/internal/lifecycle"
	"github.com/zorak1103/petbox/internal/notification"
	"github.com/zorak1103/petbox/internal/version"
)

var (
	cfgFile       string
	verbose       bool
	rootMode      bool
	userMode      bool
	nameTag       string
	cfg           *config.Config
	errConfigLoad error

	// sessionExitCode carries the contained command's exit status out to
	// Execute after the deferred stop has already run.
	sessionExitCode int
)

var rootCmd = &cobra.Command{
	Use:   "petbox [flags] [-- command...]",
	Short: "Enter a long-lived pet container for ad-hoc tooling",
	Long: `Petbox manages a long-lived "pet" container used for ad-hoc debugging and
admin tooling. Each run makes sure the image is present, the container exists
and is running, then attaches an interactive session (or runs the given
command). The container is stopped best-effort when the session ends.

Pet containers are reused across runs and identified by a stable name; petbox
never removes them.`,
	Example: `  # Enter an interactive shell in the default pet container
  petbox

  # Run a one-shot command
  petbox -- htop

  # Provision and enter as the invoking user instead of root
  petbox --user

  # Keep a separate privileged container around
  petbox --root --tag priv`,
	Version:      version.GetFullVersion(),
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		skipConfig := cmd.Name() == "init" || cmd.Name() == "help" || cmd.Name() == "version"
		if skipConfig {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			// Store config load error; the session and config commands fail
			// fast on it in their RunE handlers.
			errConfigLoad = err
			if verbose {
				fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			}
		}

		if verbose && cfg != nil {
			fmt.Fprintf(os.Stderr, "Loaded configuration from: %s\n", cfg.ConfigFilePath)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded: %w", errConfigLoad)
		}

		opts := lifecycle.Options{
			Root:     rootMode,
			UserMode: userMode,
			Command:  args,
		}
		if userMode {
			spec, err := currentUserSpec()
			if err != nil {
				return fmt.Errorf("failed to resolve the invoking user: %w", err)
			}
			opts.User = spec
		}

		code, err := runSession(cmd.Context(), opts)
		if err != nil {
			return err
		}
		sessionExitCode = code
		return nil
	},
}

// runSession wires the engine client, notifier, and orchestrator together
// and drives one full lifecycle run under signal cancellation.
func runSession(parent context.Context, opts lifecycle.Options) (int, error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// After the first signal has cancelled the session, fall back to the
		// default disposition so a second signal terminates immediately.
		<-ctx.Done()
		stop()
	}()

	var engineOpts []engine.Option
	if verbose {
		engineOpts = append(engineOpts, engine.WithProgressWriter(os.Stderr))
	}
	eng, err := engine.NewClient(cfg.Engine.SocketPath, engineOpts...)
	if err != nil {
		return 1, err
	}
	// Close error not actionable once the session is over
	defer func() { _ = eng.Close() }()

	if err := eng.Ping(ctx); err != nil {
		return 1, err
	}

	notifier, err := notification.NewNotifier(cfg)
	if err != nil {
		return 1, err
	}

	orch := lifecycle.New(eng, cfg, containerName(), notifier, nil)
	return orch.Run(ctx, opts)
}

// containerName applies the optional --tag suffix to the configured name.
func containerName() string {
	if nameTag == "" {
		return cfg.Container.Name
	}
	return cfg.Container.Name + "-" + nameTag
}

// currentUserSpec resolves the invoking host user for in-container provisioning.
func currentUserSpec() (lifecycle.UserSpec, error) {
	u, err := user.Current()
	if err != nil {
		return lifecycle.UserSpec{}, err
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return lifecycle.UserSpec{}, fmt.Errorf("non-numeric uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return lifecycle.UserSpec{}, fmt.Errorf("non-numeric gid %q: %w", u.Gid, err)
	}

	// Group name falls back to the username, the usual primary-group setup.
	group := u.Username
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		group = g.Name
	}

	return lifecycle.UserSpec{
		UID:      uid,
		GID:      gid,
		Username: u.Username,
		Group:    group,
		Home:     u.HomeDir,
	}, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	if sessionExitCode != 0 {
		os.Exit(sessionExitCode)
	}
}

// nolint:gochecknoinits // Standard Cobra pattern for command registration
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/petbox/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().BoolVarP(&rootMode, "root", "r", false, "privileged container, session runs as root")
	rootCmd.Flags().BoolVarP(&userMode, "user", "u", false, "provision and run as the invoking user")
	rootCmd.Flags().StringVarP(&nameTag, "tag", "t", "", "container name suffix for keeping separate pet containers")
}

// GetConfig returns the loaded configuration or nil if not loaded.
// Must be called after rootCmd.PersistentPreRunE has executed.
func GetConfig() *config.Config {
	return cfg
}

// GetConfigLoadError returns any error encountered during config loading.
// Returns nil if configuration loaded successfully or was not attempted.
func GetConfigLoadError() error {
	return errConfigLoad
}

// IsVerbose returns whether verbose mode is enabled via the -v flag.
func IsVerbose() bool {
	return verbose
}
