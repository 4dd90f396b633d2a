package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/server"
)

// NewServeCmd creates the 'serve' command for running the stdio router.
func NewServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router (stdio transport)",
		Long: `Start the tool-router server using stdio transport.

The server reads line-delimited JSON-RPC 2.0 requests on stdin and writes
responses on stdout. Core methods:
  • route            - route a query through the escalation ladder
  • report_outcome   - record success/failure for a decision
  • tools/register   - add a tool and generate its training corpus
  • lifecycle/apply  - train and promote an approved retrain proposal

Logs go to stderr; stdout carries only responses.`,
		Example: `  # Run directly
  tool-router serve

  # Route a query over stdio
  echo '{"jsonrpc":"2.0","id":1,"method":"route","params":{"query":"deploy api to prod"}}' | tool-router serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

// runServe starts the stdio server with signal handling. Implements graceful
// shutdown on SIGINT/SIGTERM/SIGQUIT so the decision tracker drains.
func runServe(verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	// Housekeeping before accepting traffic: drop stale unresolved decisions
	// and prune retained snapshots beyond the last few.
	if err := srv.Store().Cleanup(90*24*time.Hour, 5); err != nil {
		logger.Warn("storage cleanup failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		if err := srv.Close(); err != nil {
			logger.Error("shutdown error", zap.Error(err))
			return err
		}
		return nil

	case err := <-errChan:
		// Run returned (stdin closed or transport error); still drain.
		if closeErr := srv.Close(); closeErr != nil {
			logger.Error("cleanup error", zap.Error(closeErr))
		}
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
