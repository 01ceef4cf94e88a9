// Package cli implements the unistage command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/maxdollinger/unistage/internal/config"
)

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
	dryRun     bool
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "board config file (yaml)")
	fs.StringVar(&g.logFormat, "log-format", "", "log format: json or text")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&g.dryRun, "dry-run", false, "keep storage in memory, skip the toolstack and answer the channel locally")
}

// app is the state built once the config is loaded.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	version string
	stderr  io.Writer
}

// load reads the board config and sets up logging. Flags override both the
// file and the environment.
func (a *app) load() error {
	cfg, err := config.Load(strings.TrimSpace(a.flags.configPath))
	if err != nil {
		return err
	}
	if a.flags.logFormat != "" {
		cfg.Log.Format = a.flags.logFormat
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}

	logger, err := NewLogger(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	return nil
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string, stderr io.Writer) *cobra.Command {
	a := &app{version: version, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:           "unistage",
		Short:         "stage a unikernel and boot it as a Xen guest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	a.flags.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(bootCommand(a))
	rootCmd.AddCommand(stageCommand(a))
	rootCmd.AddCommand(lsCommand(a))
	rootCmd.AddCommand(inspectCommand(a))
	rootCmd.AddCommand(checksumCommand(a))
	rootCmd.AddCommand(peerCommand(a))
	rootCmd.AddCommand(journalCommand(a))
	rootCmd.AddCommand(configCommand(a))
	rootCmd.AddCommand(versionCommand(a))

	return rootCmd
}

// Execute runs the command line and returns the process exit status.
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand(version, stderr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
