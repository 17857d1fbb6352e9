package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/configs"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage user and project configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/amanrag/config.yaml)
  3. Project config (.amanrag.yaml)
  4. Environment variables (AMANRAG_*)`,
		Example: `  # Create user config from template
  amanrag config init

  # Create a project config in the current directory
  amanrag config init --project

  # Show effective configuration
  amanrag config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from a template",
		Example: `  amanrag config init
  amanrag config init --project
  amanrag config init --force   # overwrite, keeping a backup`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, project, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write .amanrag.yaml in the project directory instead of the user config")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  amanrag config show
  amanrag config show --json
  amanrag config show --source user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	var project bool

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				var err error
				if path, err = projectConfigPath(); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Print the project config path")
	return cmd
}

func newConfigRestoreCmd() *cobra.Command {
	var project, list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore a configuration backup",
		Long: `Restore a backup written by 'config init --force'. Without an argument
the newest backup is restored. The file being replaced is backed up first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			path := config.GetUserConfigPath()
			if project {
				var err error
				if path, err = projectConfigPath(); err != nil {
					return err
				}
			}

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			var backup string
			switch {
			case len(args) == 1:
				backup = args[0]
			case len(backups) > 0:
				backup = backups[0]
			default:
				out.Warningf("No backups of %s", path)
				return nil
			}

			if err := config.RestoreBackup(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s", path)
			out.Statusf("💾", "From: %s", backup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Restore the project config")
	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")
	return cmd
}

func runConfigInit(cmd *cobra.Command, project, force bool) error {
	out := output.New(cmd.OutOrStdout())

	scope := "user"
	path := config.GetUserConfigPath()
	if project {
		scope = "project"
		var err error
		if path, err = projectConfigPath(); err != nil {
			return err
		}
	}
	template, _ := configs.Template(scope)

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("Configuration already exists: %s", path)
			out.Status("💡", "Use --force to replace it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Successf("Created %s configuration", scope)
	out.Statusf("📁", "Location: %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Edit the file to customize settings")
	out.Status("", "  2. Run 'amanrag config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
		err        error
	)

	switch source {
	case "merged":
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		sourceDesc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'amanrag config init' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("user (%s)", path)

	case "project":
		path, err := projectConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'amanrag config init --project' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	if jsonOutput {
		return out.JSON(cfg)
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}

func projectConfigPath() (string, error) {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	return filepath.Join(dir, config.ProjectConfigName), nil
}
