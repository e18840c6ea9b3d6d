package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zorak1103/petbox/internal/templates"
)

var (
	force bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize petbox configuration",
	Long: `Init creates the per-user configuration files for petbox.

This command will create:
  - ~/.config/petbox/config.yaml (sample configuration file)
  - ~/.config/petbox/.env (environment variable template)

Petbox works without configuration; run this only when you want to override
the defaults (registry, image, container name, shell, notifications).`,
	Example: `  # Create the starter configuration
  petbox init

  # Force overwrite existing files
  petbox init --force`,
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Println("🔧 Initializing petbox...")

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}

		configDir := filepath.Join(home, ".config", "petbox")
		if err := os.MkdirAll(configDir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", configDir, err)
		}
		fmt.Printf("✅ Created directory: %s\n", configDir)

		files := map[string][]byte{
			filepath.Join(configDir, "config.yaml"): templates.ConfigYAML,
			filepath.Join(configDir, ".env"):        templates.EnvFile,
		}

		for filename, content := range files {
			if _, err := os.Stat(filename); err == nil && !force {
				fmt.Printf("⚠️  Skipping %s (already exists, use --force to overwrite)\n", filename)
				continue
			}

			if err := os.WriteFile(filename, content, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", filename, err)
			}

			fmt.Printf("✅ Created %s\n", filename)
		}

		fmt.Println("\n🎉 Initialization complete!")
		fmt.Println("\n📝 Next steps:")
		fmt.Println("   1. Edit config.yaml to set your image and container name")
		fmt.Println("   2. Run 'petbox config' to review the effective configuration")
		fmt.Println("   3. Run 'petbox' to enter your pet container")

		return nil
	},
}

// nolint:gochecknoinits // Standard Cobra pattern for command registration
func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration files")
}
