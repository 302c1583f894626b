package main

import (
	"fmt"
	"io"

	"github.com/livetemplate/blockdown/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the state shared by every command.
type app struct {
	out    io.Writer
	errOut io.Writer

	debug      bool
	allowExec  bool
	configPath string

	// logger is built before each command unless a test set it.
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "blockdown",
		Short: "Serve markdown pages built from content blocks",
		Long: `blockdown turns markdown documents into pages of typed content blocks:
tables, KPI cards, charts, dropdowns and live-metric cards that poll JSON
endpoints. {{placeholders}} are filled from the sources in blockdown.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetAllowExec(a.allowExec)
			if a.logger != nil {
				return nil
			}
			cfg := zap.NewProductionConfig()
			cfg.Encoding = "console"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			if a.debug {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&a.allowExec, "allow-exec", false, "Allow exec sources to run commands")
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default: blockdown.yaml in the page directory)")

	root.AddCommand(
		newServeCmd(a),
		newNewCmd(a),
		newParseCmd(a),
		newResolveCmd(a),
		newExportCmd(a),
		newValidateCmd(a),
		newSourcesCmd(a),
		newSourceCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(a.out, "blockdown version %s\n", version)
			},
		},
	)
	return root
}
