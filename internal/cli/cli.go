/*
Package cli implements the tool-router command-line interface.

Every command is constructed by a NewXCmd function and wired onto the root
command in cmd/tool-router. One-shot commands (route, train, tools, ...)
build the full server wiring, run a single operation and shut down; the
serve command keeps the wiring alive behind the stdio transport.
*/
package cli

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/khanglvm/tool-router/internal/config"
	"github.com/khanglvm/tool-router/internal/server"
)

// configPath overrides the default config location when set via the root
// command's --config flag.
var configPath string

// SetConfigPath is called by the root command's flag handling.
func SetConfigPath(path string) { configPath = path }

// loadConfig loads configuration from the --config override or the default
// path, falling back to defaults when no file exists.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load()
}

// newLogger builds the CLI logger. Output goes to stderr so the stdio
// transport and command output own stdout exclusively.
func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return zcfg.Build()
}

// openServer builds the shared wiring used by one-shot commands.
func openServer(verbose bool) (*server.Server, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(verbose)
	if err != nil {
		return nil, err
	}
	return server.New(cfg, logger)
}
