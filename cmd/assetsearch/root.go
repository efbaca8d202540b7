package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dshills/assetsearch/internal/config"
	"github.com/dshills/assetsearch/internal/logging"
	"github.com/dshills/assetsearch/internal/storage"
)

// app carries state shared by every command
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *log.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "assetsearch",
		Short: "Full-text search over project asset properties",
		Long: `assetsearch indexes the properties of every asset under a content
directory into an embedded SQLite full-text index and answers searches over
it, from the command line or as an MCP server on stdio.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetVersionTemplate(fmt.Sprintf(`assetsearch {{.Version}}
Build Time: %s
Build Mode: %s
SQLite Driver: %s
`, buildTime, storage.BuildMode, storage.DriverName))

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: $"+config.EnvConfigPath+" or the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newServeCommand(a),
		newIndexCommand(a),
		newSearchCommand(a),
		newStatsCommand(a),
	)
	return root
}

// load reads the configuration and builds the logger. Logs go to stderr;
// stdout carries command output and the MCP protocol.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
