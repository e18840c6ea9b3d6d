// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Common errors
var (
	Err = errors.New("config error")
)

// Config represents the application configuration
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine"`
	Image        ImageConfig        `mapstructure:"image"`
	Container    ContainerConfig    `mapstructure:"container"`
	Provision    ProvisionConfig    `mapstructure:"provision"`
	Notification NotificationConfig `mapstructure:"notification"`

	// ConfigFilePath stores the path to the loaded config file (not marshaled from YAML)
	ConfigFilePath string `mapstructure:"-"`
}

// EngineConfig contains container engine connection settings
type EngineConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

// ImageConfig identifies the pet container image as a (registry, repository) pair
type ImageConfig struct {
	Registry   string `mapstructure:"registry"`
	Repository string `mapstructure:"repository"`
}

// ContainerConfig contains pet container creation and session settings
type ContainerConfig struct {
	Name        string   `mapstructure:"name"`
	Shell       string   `mapstructure:"shell"`
	NetworkMode string   `mapstructure:"network_mode"`
	Volumes     []string `mapstructure:"volumes"` // host:container[:opts] binds, $VAR expanded
}

// ProvisionConfig contains first-creation user provisioning settings
type ProvisionConfig struct {
	EscalationGroup string `mapstructure:"escalation_group"`
	SudoersFile     string `mapstructure:"sudoers_file"`
}

// NotificationConfig contains notification settings
type NotificationConfig struct {
	ShoutrrURL string `mapstructure:"shoutrrr_url"` // Shoutrrr URL format
	Enabled    bool   `mapstructure:"enabled"`
}

// ImageRef resolves the (registry, repository) pair to a single image reference.
func (c *Config) ImageRef() string {
	return c.Image.Registry + "/" + c.Image.Repository
}

// autoDetectEngineSocket determines the engine socket path based on environment and platform.
func autoDetectEngineSocket() string {
	if os.Getenv("DOCKER_HOST") != "" {
		return os.Getenv("DOCKER_HOST")
	}
	// Check for Unix socket
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		return "unix:///var/run/docker.sock"
	}
	// Default to Windows named pipe if Unix socket not found
	return "npipe:////./pipe/docker_engine"
}

// defaultContainerName derives the per-user pet container name.
func defaultContainerName() string {
	username := os.Getenv("USER")
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}
	if username == "" {
		username = "default"
	}
	return "petbox-" + username
}

// defaultShell prefers the invoking user's shell.
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/petbox")
		v.AddConfigPath("/etc/petbox")
	}

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			configFile := v.ConfigFileUsed()
			if configFile == "" {
				configFile = configPath
			}
			return nil, fmt.Errorf("error reading config file from %s: %w", configFile, err)
		}
		// Config file not found; using defaults and env vars
	}

	// Environment variable support
	v.SetEnvPrefix("PETBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		configFile := v.ConfigFileUsed()
		if configFile == "" {
			configFile = "(using defaults and environment variables)"
		}
		return nil, fmt.Errorf("error unmarshaling config from %s: %w", configFile, err)
	}

	// Store the config file path in the struct (DI approach, no global state)
	cfg.ConfigFilePath = v.ConfigFileUsed()

	// Auto-detect engine socket if not specified
	if cfg.Engine.SocketPath == "" {
		cfg.Engine.SocketPath = autoDetectEngineSocket()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		configFile := v.ConfigFileUsed()
		if configFile == "" {
			configFile = "(using defaults and environment variables)"
		}
		return nil, fmt.Errorf("config validation failed for %s: %w", configFile, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Engine defaults
	if os.Getenv("DOCKER_HOST") != "" {
		v.SetDefault("engine.socket_path", os.Getenv("DOCKER_HOST"))
	} else {
		// Default engine socket paths by platform
		if _, err := os.Stat("/var/run/docker.sock"); err == nil {
			v.SetDefault("engine.socket_path", "unix:///var/run/docker.sock")
		} else {
			v.SetDefault("engine.socket_path", "npipe:////./pipe/docker_engine")
		}
	}

	// Image defaults
	v.SetDefault("image.registry", "registry.fedoraproject.org")
	v.SetDefault("image.repository", "fedora-toolbox:latest")

	// Container defaults
	v.SetDefault("container.name", defaultContainerName())
	v.SetDefault("container.shell", defaultShell())
	v.SetDefault("container.network_mode", "host")
	v.SetDefault("container.volumes", []string{"$HOME:$HOME"})

	// Provision defaults
	v.SetDefault("provision.escalation_group", "wheel")
	v.SetDefault("provision.sudoers_file", "/etc/sudoers.d/petbox")

	// Notification defaults
	v.SetDefault("notification.shoutrrr_url", "") // Required for AutomaticEnv to work
	v.SetDefault("notification.enabled", false)
}

// Validate ensures all required fields are set and values are well formed.
func (c *Config) Validate() error {
	configSource := c.ConfigFilePath
	if configSource == "" {
		configSource = "(defaults/environment)"
	}

	if err := c.validateRequiredFields(configSource); err != nil {
		return err
	}

	return c.validateVolumes(configSource)
}

func (c *Config) validateRequiredFields(configSource string) error {
	requiredFields := []struct {
		value   string
		message string
	}{
		{c.Engine.SocketPath, "engine.socket_path is required in config %s"},
		{c.Image.Registry, "image.registry is required in config %s"},
		{c.Image.Repository, "image.repository is required in config %s"},
		{c.Container.Name, "container.name is required in config %s"},
		{c.Container.Shell, "container.shell is required in config %s"},
		{c.Provision.EscalationGroup, "provision.escalation_group is required in config %s"},
		{c.Provision.SudoersFile, "provision.sudoers_file is required in config %s"},
	}

	for _, field := range requiredFields {
		if field.value == "" {
			return fmt.Errorf(field.message, configSource)
		}
	}
	return nil
}

func (c *Config) validateVolumes(configSource string) error {
	for i, vol := range c.Container.Volumes {
		if !strings.Contains(vol, ":") {
			return fmt.Errorf("container.volumes[%d] must be host:container[:opts], got %q in config %s",
				i, vol, configSource)
		}
	}
	return nil
}
