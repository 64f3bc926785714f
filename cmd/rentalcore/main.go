package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	bookingapp "rentalcore/internal/app/handlers/booking"
	"rentalcore/internal/app/policies"
	"rentalcore/internal/infra/config"
	ginserver "rentalcore/internal/infra/http/gin"
	"rentalcore/internal/infra/obs"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "rentalcore",
		Short:         "Booking lifecycle and occupancy service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), relayCmd(), sweepCmd(), reconcileCmd(), migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, obs.NewLogger(os.Getenv("APP_ENV")), err
	}
	return cfg, obs.NewLoggerTo(os.Stdout, cfg.Env, obs.ParseLevel(cfg.LogLevel)), nil
}

func serveCmd() *cobra.Command {
	var withoutWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the outbox relay and the expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := buildApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.loadFixtures(ctx, cfg.FixturesPath); err != nil {
				logger.Warn("fixtures load failed", "error", err, "path", cfg.FixturesPath)
			}

			var wg sync.WaitGroup
			if !withoutWorkers {
				app.startBackground(ctx, &wg)
			}

			server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: app.backend.checks}, app.handlers)
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("http shutdown failed", "error", err)
				}
			}()

			logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.Store)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			wg.Wait()
			logger.Info("HTTP server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withoutWorkers, "api-only", false, "do not start the relay and sweep in this process")
	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run only the outbox relay, the effect consumer and the expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := buildApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			var wg sync.WaitGroup
			app.startBackground(ctx, &wg)
			logger.Info("relay started", "store", cfg.Store, "kafka", len(cfg.KafkaBrokers) > 0)
			wg.Wait()
			logger.Info("relay stopped")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel pending bookings whose requested date has passed, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := buildApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.sweep.RunOnce(ctx)
			if err != nil {
				return err
			}
			if _, err := app.worker.Drain(ctx); err != nil {
				logger.Warn("outbox drain after sweep failed", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d skipped=%d failed=%d\n",
				report.Scanned, report.Expired, report.Skipped, report.Failed)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "reconcile <property-id>",
		Short: "Recount rented rooms of a property and repair its occupancy counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			// the operator at the console acts as an administrator
			ctx := policies.ContextWithPrincipal(cmd.Context(), policies.Principal{ID: actor, Roles: []string{policies.RoleAdmin}})
			app, err := buildApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			drift, err := commands.Dispatch[bookingapp.ReconcilePropertyCommand, *dto.Drift](ctx, app.commands,
				bookingapp.ReconcilePropertyCommand{PropertyID: args[0], ActorID: actor})
			if err != nil {
				return err
			}
			if _, err := app.worker.Drain(ctx); err != nil {
				logger.Warn("outbox drain after reconcile failed", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "property=%s stored=%d counted=%d repaired=%t\n",
				drift.PropertyID, drift.Stored, drift.Counted, drift.Repaired)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "operator", "user id recorded as the reconciling administrator")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables or indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			// opening a backend migrates it
			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()
			logger.Info("store migrated", "store", cfg.Store)
			return nil
		},
	}
}
