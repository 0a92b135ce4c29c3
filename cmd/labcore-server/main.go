package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labcore/labcore/internal/config"
	"github.com/labcore/labcore/internal/domain/orders"
	"github.com/labcore/labcore/internal/domain/results"
	"github.com/labcore/labcore/internal/platform/auth"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/labgateway"
	"github.com/labcore/labcore/internal/platform/middleware"
	"github.com/labcore/labcore/internal/platform/notification"
	"github.com/labcore/labcore/internal/platform/poller"
	"github.com/labcore/labcore/internal/platform/requisition"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "labcore-server",
		Short: "Clinical lab order pipeline server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the order pipeline poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// External collaborators. Dev mode runs against in-process doubles so
	// the pipeline is fully exercisable without a lab integration.
	var gateway labgateway.Gateway
	if cfg.LabGatewayURL != "" {
		gateway = labgateway.NewHTTPGateway(cfg.LabGatewayURL)
	} else {
		logger.Warn().Msg("LAB_GATEWAY_URL not set, using in-memory gateway")
		gateway = labgateway.NewMockGateway()
	}
	notifyMgr := notification.NewManager(&notification.LogSender{})

	// Repositories and services
	orderRepo := orders.NewOrderRepoPG(pool)
	historyRepo := orders.NewStatusHistoryRepoPG(pool)
	resultRepo := results.NewResultRepoPG(pool)
	auditRepo := results.NewAuditRepoPG(pool)
	allocator := requisition.NewAllocatorPG(pool, cfg.RequisitionPrefix)

	resultSvc := results.NewService(resultRepo, auditRepo, notifyMgr, logger)
	resultSvc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	})
	orderSvc := orders.NewService(orderRepo, historyRepo, allocator, gateway, resultSvc,
		logger, cfg.MinResultDelay)
	resultSvc.SetOrderSink(orderSvc)

	// Pipeline poller
	sched := poller.NewScheduler(cfg.PollInterval, cfg.PollStageTimeout, logger,
		poller.Stage{Name: "transmit", Run: orderSvc.TransmitPending},
		poller.Stage{Name: "results", Run: orderSvc.GenerateDueResults},
		poller.Stage{Name: "critical", Run: resultSvc.EscalateCritical},
	)
	sched.Start()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	orders.NewHandler(orderSvc).RegisterRoutes(api)
	results.NewHandler(resultSvc).RegisterRoutes(api)

	admin := api.Group("", auth.RequireRole("admin"))
	notification.NewHandler(notifyMgr).RegisterRoutes(admin)

	// Graceful shutdown: stop the poller first so no tick races the pool
	// teardown, then drain the HTTP server.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	sched.Stop()
	logger.Info().Msg("poller stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
