package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the effective configuration",
	Long: `Display the effective configuration that petbox will use at runtime.

This shows the merged configuration from:
  1. Default values
  2. Configuration file (config.yaml)
  3. Environment variables (highest priority)

Sensitive values like notification URLs are masked for security.`,
	Example: `  # Show current configuration
  petbox config

  # Show with custom config file
  petbox config --config /etc/petbox/config.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return fmt.Errorf("configuration not loaded\n\nTo get started, run: petbox init")
		}

		out := cmd.OutOrStdout()

		// Write output to stdout; errors writing to stdout are not actionable in CLI context
		_, _ = fmt.Fprintln(out, "=== petbox Effective Configuration ===")
		_, _ = fmt.Fprintln(out)

		_, _ = fmt.Fprintln(out, "🐳 Engine Configuration:")
		_, _ = fmt.Fprintf(out, "   Socket Path:    %s\n", cfg.Engine.SocketPath)
		_, _ = fmt.Fprintln(out)

		_, _ = fmt.Fprintln(out, "💿 Image Configuration:")
		_, _ = fmt.Fprintf(out, "   Registry:       %s\n", cfg.Image.Registry)
		_, _ = fmt.Fprintf(out, "   Repository:     %s\n", cfg.Image.Repository)
		_, _ = fmt.Fprintf(out, "   Image Ref:      %s\n", cfg.ImageRef())
		_, _ = fmt.Fprintln(out)

		_, _ = fmt.Fprintln(out, "📦 Container Configuration:")
		_, _ = fmt.Fprintf(out, "   Name:           %s\n", cfg.Container.Name)
		_, _ = fmt.Fprintf(out, "   Shell:          %s\n", cfg.Container.Shell)
		_, _ = fmt.Fprintf(out, "   Network Mode:   %s\n", cfg.Container.NetworkMode)
		_, _ = fmt.Fprintf(out, "   Volumes:        %s\n", strings.Join(cfg.Container.Volumes, ", "))
		_, _ = fmt.Fprintln(out)

		_, _ = fmt.Fprintln(out, "👤 Provision Configuration:")
		_, _ = fmt.Fprintf(out, "   Escalation Group: %s\n", cfg.Provision.EscalationGroup)
		_, _ = fmt.Fprintf(out, "   Sudoers File:     %s\n", cfg.Provision.SudoersFile)
		_, _ = fmt.Fprintln(out)

		_, _ = fmt.Fprintln(out, "🔔 Notification Configuration:")
		_, _ = fmt.Fprintf(out, "   Enabled:        %v\n", cfg.Notification.Enabled)
		_, _ = fmt.Fprintf(out, "   Shoutrrr URL:   %s\n", maskShoutrrrURL(cfg.Notification.ShoutrrURL))
		_, _ = fmt.Fprintln(out)

		return nil
	},
}

// nolint:gochecknoinits // Standard Cobra pattern for command registration
func init() {
	rootCmd.AddCommand(configCmd)
}

// maskShoutrrrURL masks sensitive parts of Shoutrrr URL
func maskShoutrrrURL(url string) string {
	if url == "" {
		return "❌ Not configured"
	}

	// Extract service type (e.g., discord://, slack://, smtp://)
	parts := strings.SplitN(url, "://", 2)
	if len(parts) != 2 {
		return "✅ Configured (invalid format)"
	}

	service := parts[0]
	// Mask the credentials/tokens
	return fmt.Sprintf("✅ Configured (%s://***)", service)
}
