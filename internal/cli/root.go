// Package cli holds the alarmpipe cobra commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	version    string
}

// NewRootCmd builds the alarmpipe command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	root := &cobra.Command{
		Use:   "alarmpipe",
		Short: "Threshold alarm engine for metric streams",
		Long: `alarmpipe compiles alarm expressions such as

  max(cpu{host=web-1}, 120) > 90 and avg(load) > 4

and evaluates them against measurements arriving on MQTT, publishing an
alarm event whenever a definition changes state.

  alarmpipe serve                      Run the engine
  alarmpipe check <expression>         Compile and print an expression
  alarmpipe replay -e <expr> <file>    Evaluate recorded measurements`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default ./alarmpipe.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(),
		newReplayCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(version string) int {
	cmd := NewRootCmd(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *rootOptions) loadSettings() (*conf.Settings, error) {
	settings, err := conf.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		settings.Log.Level = o.logLevel
	}
	return settings, nil
}

// newLogger builds the process logger: a rotated JSON file when log.file is
// set, otherwise stderr.
func newLogger(settings conf.LogSettings, stderr io.Writer) (logger.Logger, io.Closer, error) {
	level, err := logger.ParseLevel(settings.Level)
	if err != nil {
		return nil, nil, err
	}
	if settings.File != "" {
		l, closer := logger.NewFileLogger(settings.File, level, logger.Rotation{
			MaxSizeMB:  settings.MaxSizeMB,
			MaxBackups: settings.MaxBackups,
			MaxAgeDays: settings.MaxAgeDays,
			Compress:   true,
		})
		return l, closer, nil
	}
	return logger.NewSlogLogger(stderr, level, &logger.Options{JSON: settings.JSON}), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

