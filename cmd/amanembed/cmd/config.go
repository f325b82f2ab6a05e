package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanembed/configs"
	"github.com/Aman-CERP/amanembed/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect configuration files",
		Long: `Configuration layers, lowest first:
  1. defaults
  2. user config (~/.config/amanembed/config.yaml)
  3. project config (.amanembed.yaml)
  4. .env in the project root
  5. AMANEMBED_* environment variables`,
	}
	cmd.AddCommand(newConfigInitCmd(a), newConfigShowCmd(a), newConfigPathCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var user, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration template",
		Example: `  # Project config in the current project
  amanembed config init

  # User config for this machine
  amanembed config init --user`,
		Annotations: map[string]string{annotationNoConfig: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := config.GetUserConfigPath(), configs.UserConfigTemplate
			if !user {
				root, err := config.FindProjectRoot(a.dir)
				if err != nil {
					return err
				}
				if existing := config.ProjectConfigPath(root); existing != "" && !force {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "Existing %s preserved (use --force to replace)\n", existing)
					return err
				}
				path, template = filepath.Join(root, config.ProjectConfigFile), configs.ProjectConfigTemplate
			} else if config.UserConfigExists() && !force {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Existing %s preserved (use --force to replace)\n", path)
				return err
			}

			if force {
				if backup, err := config.BackupFile(path); err != nil {
					return err
				} else if backup != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Backup: %s\n", backup)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file, keeping a backup")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the user and project config file paths",
		Annotations: map[string]string{annotationNoConfig: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
			root, err := config.FindProjectRoot(a.dir)
			if err != nil {
				return err
			}
			project := config.ProjectConfigPath(root)
			if project == "" {
				project = filepath.Join(root, config.ProjectConfigFile) + " (not created)"
			}
			_, err = fmt.Fprintf(out, "project: %s\n", project)
			return err
		},
	}
}
