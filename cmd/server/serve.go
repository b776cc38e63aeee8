package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/api"
	"procura.dev/bid-workbench/internal/auth"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workbench HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "initialize workbench")
		}
		defer a.Close()

		issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		handler := api.NewAPIHandler(a.workbench, issuer, a.renderer, a.locator)

		port := servePort
		if port == "" {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%s", port),
			Handler:      api.NewRouter(handler),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout, // LLM calls can take time
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return eris.Wrapf(err, "listen on %s", srv.Addr)
			}
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		if err := shutdown(srv, a.workbench, 30*time.Second); err != nil {
			return err
		}
		zap.L().Info("server exiting gracefully")
		return nil
	},
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type saver interface {
	SaveAll(ctx context.Context) error
}

// shutdown stops the server and then saves every open evaluation, even when
// in-flight requests outlived the grace period.
func shutdown(srv shutdowner, s saver, grace time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	saveCtx, cancelSave := context.WithTimeout(context.Background(), grace)
	defer cancelSave()
	if err := s.SaveAll(saveCtx); err != nil {
		zap.L().Error("final save failed", zap.Error(err))
	}

	if shutdownErr != nil {
		return eris.Wrap(shutdownErr, "server forced to shutdown")
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (overrides server.port)")
}
