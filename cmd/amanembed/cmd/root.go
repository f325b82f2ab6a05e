// Package cmd provides the CLI commands for amanembed.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanembed/internal/config"
	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/logging"
	"github.com/Aman-CERP/amanembed/pkg/version"
)

// Annotations understood by the root pre-run hook.
const (
	annotationNoConfig = "amanembed/no-config"
	annotationMCP      = "amanembed/mcp"
)

// app carries what every subcommand shares.
type app struct {
	debug      bool
	configPath string
	dir        string
	noTUI      bool

	root    string
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "amanembed",
		Short: "Keep semantic embeddings of a project's files current",
		Long: `amanembed embeds every text file and markdown section of a project,
keeps the vectors current as files change, and answers similarity queries
from the command line or over MCP.

Run 'amanembed index' in a project directory to get started.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}
	cmd.SetVersionTemplate("amanembed version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging (also to stderr outside serve)")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Project config file (default: .amanembed.yaml in the project root)")
	cmd.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "Project directory")
	cmd.PersistentFlags().BoolVar(&a.noTUI, "no-tui", false, "Plain line output instead of the interactive view")

	cmd.AddCommand(
		newIndexCmd(a),
		newWatchCmd(a),
		newSearchCmd(a),
		newStatusCmd(a),
		newSwitchCmd(a),
		newRetryCmd(a),
		newServeCmd(a),
		newLogsCmd(),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup resolves the project, loads configuration and installs logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoConfig] != "" {
		return nil
	}

	root, err := config.FindProjectRoot(a.dir)
	if err != nil {
		return err
	}
	a.root = root

	cfg, err := config.LoadFile(root, a.configPath)
	if err != nil {
		return amanerrors.ConfigError(err.Error(), err)
	}
	a.cfg = cfg

	var logCfg logging.Config
	switch {
	case cmd.Annotations[annotationMCP] != "":
		// stdout carries the protocol; keep the terminal silent.
		level := cfg.Logging.Level
		if a.debug {
			level = "debug"
		}
		logCfg = logging.MCPConfig(level)
	case a.debug:
		logCfg = logging.DebugConfig()
	default:
		logCfg = logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
	}
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger, a.cleanup = logger, cleanup
	logger.Debug("command_started",
		slog.String("command", cmd.Name()),
		slog.String("root", root),
		slog.String("version", version.Version))
	return nil
}

func (a *app) teardown() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	c, err := cmd.ExecuteContextC(ctx)
	if err != nil {
		reportError(c, err, os.Stdout, os.Stderr)
	}
	return err
}

// reportError prints err as a JSON document on stdout when the command was
// asked for JSON output, and as CLI text on stderr otherwise.
func reportError(c *cobra.Command, err error, stdout, stderr io.Writer) {
	if c != nil && wantsJSON(c) {
		if raw, jerr := amanerrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(stdout, string(raw))
			return
		}
	}
	_, _ = fmt.Fprint(stderr, amanerrors.FormatForCLI(err))
}

func wantsJSON(c *cobra.Command) bool {
	if f := c.Flags().Lookup("json"); f != nil && f.Value.String() == "true" {
		return true
	}
	if f := c.Flags().Lookup("format"); f != nil && f.Value.String() == "json" {
		return true
	}
	return false
}
