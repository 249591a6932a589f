package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/config"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/handler"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/recovery"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/scheduler"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return nil, err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fachuan",
		Short:         "Court document acquisition pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newRecoverCmd())
	root.AddCommand(newProcessCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			fiberApp := fiber.New(fiber.Config{
				ErrorHandler: transport.ErrorHandler(a.logger),
			})
			fiberApp.Use(transport.CorrelationMiddleware())
			fiberApp.Use(a.metrics.HTTPMiddleware())

			handler.RegisterHealthRoutes(fiberApp, a.sqlDB, a.rdb, a.rabbit)
			if err := handler.RegisterNotificationRoutes(fiberApp, a.processor, a.notifications, a.schedules, a.dispatcher); err != nil {
				return err
			}
			if err := handler.RegisterTaskRoutes(fiberApp, a.tasks, a.notifications); err != nil {
				return err
			}
			fiberApp.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.dispatcher.Start(ctx)

			errCh := make(chan error, 1)
			go func() {
				errCh <- fiberApp.Listen(fmt.Sprintf(":%d", a.cfg.APIPort))
			}()
			a.logger.Info("api started", zap.Int("port", a.cfg.APIPort))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.logger.Info("shutting down")
				return fiberApp.ShutdownWithTimeout(10 * time.Second)
			}
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		scheduleID string
		dryRun     bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute due schedules, or one schedule by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			opts := scheduler.ExecuteOptions{DryRun: dryRun, Force: force}

			var reports []scheduler.ExecuteReport
			if scheduleID != "" {
				report, err := a.schedules.Execute(cmd.Context(), scheduleID, opts)
				if err != nil {
					return err
				}
				reports = append(reports, *report)
			} else {
				reports, err = a.schedules.Sweep(cmd.Context(), opts)
				if err != nil {
					return err
				}
			}

			for _, report := range reports {
				logScheduleReport(a.logger, report)
			}
			a.logger.Info("run finished", zap.Int("schedules", len(reports)))
			return nil
		},
	}

	cmd.Flags().StringVar(&scheduleID, "schedule-id", "", "run only this schedule")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without processing")
	cmd.Flags().BoolVar(&force, "force", false, "run schedules that are not due yet")

	return cmd
}

func logScheduleReport(logger *zap.Logger, report scheduler.ExecuteReport) {
	fields := []zap.Field{
		zap.String("scheduleId", report.ScheduleID),
		zap.String("site", report.Site),
		zap.Bool("dryRun", report.DryRun),
		zap.Bool("skipped", report.Skipped),
		zap.Int("found", report.Found),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
	}
	if !report.NextRunAt.IsZero() {
		fields = append(fields, zap.Time("nextRunAt", report.NextRunAt))
	}
	if len(report.Errors) > 0 {
		fields = append(fields, zap.Strings("errors", report.Errors))
	}
	logger.Info("schedule executed", fields...)
}

func newRecoverCmd() *cobra.Command {
	var (
		dryRun      bool
		resetStuck  bool
		maxAgeHours int
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resume unfinished notifications from their persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			report, err := a.recoverer.Recover(cmd.Context(), recovery.Options{
				MaxAgeHours: maxAgeHours,
				ResetStuck:  resetStuck,
				DryRun:      dryRun,
			})
			if err != nil {
				return err
			}

			fields := []zap.Field{
				zap.Bool("dryRun", dryRun),
				zap.Int("scanned", report.Scanned),
				zap.Int("resumed", report.Resumed),
				zap.Int("reset", report.Reset),
				zap.Int("parked", report.Parked),
				zap.Int("stuck", report.Stuck),
				zap.Int("failed", report.Failed),
			}
			if len(report.Errors) > 0 {
				fields = append(fields, zap.Strings("errors", report.Errors))
			}
			a.logger.Info("recovery finished", fields...)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without resuming or resetting anything")
	cmd.Flags().BoolVar(&resetStuck, "reset-stuck", false, "reset notifications stuck mid-flight back to pending")
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "ignore notifications older than this (default 48)")

	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <notification-id>...",
		Short: "Run specific notifications through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			report, err := a.workers.Run(cmd.Context(), args)
			if err != nil {
				return err
			}

			fields := []zap.Field{
				zap.Int("submitted", report.Submitted),
				zap.Int("succeeded", report.Succeeded),
				zap.Int("failed", report.Failed),
			}
			if len(report.Errors) > 0 {
				fields = append(fields, zap.Strings("errors", report.Errors))
			}
			a.logger.Info("batch finished", fields...)
			return nil
		},
	}
}
