package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"statement-ingestion-service/internal/api"
	"statement-ingestion-service/pkg/errors"
)

// shutdownTimeout bounds how long in-flight uploads may run after a signal
const shutdownTimeout = 30 * time.Second

func (c *cli) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the statement upload API",
		Long: `Serve starts the HTTP API for statement uploads.

Routes:
  GET  /api/health
  POST /api/accounts/:accountID/statements       (multipart field "file")
  GET  /api/statements/:statementID/transactions

Requests identify the user with the X-User-ID header.`,
		Args: cobra.NoArgs,
		RunE: c.runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := api.NewApp(api.NewHandler(rt.service, rt.store, getVersionString()))
	addr := rt.cfg.Server.Addr

	listenErr := make(chan error, 1)
	go func() {
		rt.log.WithField("addr", addr).Info("Starting API server")
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "listen on "+addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	rt.log.Info("Server stopped")
	return nil
}
