// cliptrim/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cliptrim/api"
	"cliptrim/ffmpeg"
	"cliptrim/logging"
	"cliptrim/task"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			logging.Configure(logging.Config{Level: cc.logLevel(), Output: os.Stdout})
			log := logging.WithComponent("server")

			if _, err := exec.LookPath(cfg.FFBin); err != nil {
				log.Warn().Str("ff_bin", cfg.FFBin).Msg("ffmpeg binary not found in PATH, jobs will fail to start")
			}

			// Initialize the engine, then the job manager around it
			builder := ffmpeg.NewBuilder(cfg.FFBin, nil)
			executor := ffmpeg.NewExecutor(ffmpeg.ExecutorOptions{
				TempDir:     cfg.TempDir,
				MaxLineSize: int(cfg.MaxLogLine),
				CancelGrace: cfg.CancelGrace,
			})
			jobs, err := task.NewManager(cfg, builder, executor)
			if err != nil {
				return fmt.Errorf("initialize job manager: %w", err)
			}

			router := api.SetupRouter(jobs, cfg)
			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			jobs.Start(ctx)

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Str("workspace", cfg.Workspace).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			// Wait for an interrupt signal or a listener failure
			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("listen: %w", err)
				}
			}

			// Restore default behavior on the interrupt signal and notify user of shutdown.
			stop()
			log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

			// The server has 5 seconds to finish the requests it is currently handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Info().Msg("server exiting")
			return nil
		},
	}
}
