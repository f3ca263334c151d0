// cli/serve.go
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremymoreau/covid19mtl/handlers"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin trigger API",
		Long: `Start an HTTP server exposing the refresh status and the auto/manual
triggers. Runs started here share the lock file with the command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (server.addr from the configuration when empty)")
	return cmd
}

func runServe(ctx context.Context, o *options) error {
	e, err := o.setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := o.addr
	if addr == "" {
		addr = e.cfg.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(&handlers.AdminHandler{Pipeline: e.pipeline, Logger: e.logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			e.logger.Warn("[serve] shutdown: %v", err)
		}
	}()

	e.logger.Info("[serve] admin API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
