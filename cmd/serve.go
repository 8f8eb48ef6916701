package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Starts the HTTP server exposing crawl, refresh and status operations
plus health and Prometheus metrics endpoints. The server shuts down
gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			server := api.NewServer(a.Orchestrator, a.Logger.Named("api"))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("http server listening", zap.Int("port", a.Config.Server.Port))
				if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errCh <- serveErr
				}
			}()

			select {
			case <-cmd.Context().Done():
				a.Logger.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
					return fmt.Errorf("shutdown server: %w", shutdownErr)
				}
				return nil
			case serveErr := <-errCh:
				return fmt.Errorf("serve: %w", serveErr)
			}
		},
	}
	return cmd
}
