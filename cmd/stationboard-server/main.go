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

	"github.com/stationboard/stationboard/internal/config"
	"github.com/stationboard/stationboard/internal/domain/ack"
	"github.com/stationboard/stationboard/internal/domain/cases"
	"github.com/stationboard/stationboard/internal/domain/rules"
	"github.com/stationboard/stationboard/internal/platform/audit"
	"github.com/stationboard/stationboard/internal/platform/auth"
	"github.com/stationboard/stationboard/internal/platform/cache"
	"github.com/stationboard/stationboard/internal/platform/db"
	"github.com/stationboard/stationboard/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stationboard-server",
		Short: "Ward quality and compliance dashboard API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the rule catalog and shift reasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.RulesFile
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			repo := rules.NewRepo(pool)
			catalog := rules.NewCatalog(repo, time.Duration(cfg.RuleCacheTTL)*time.Second, logger)
			sink := audit.NewSink(pool, logger)
			svc := rules.NewService(repo, catalog, sink, nil)

			res, err := svc.SeedFromFile(ctx, file)
			if err != nil {
				return fmt.Errorf("seed from %s: %w", file, err)
			}
			fmt.Printf("Rules: %d inserted, %d already present.\n", res.RulesInserted, res.RulesSkipped)
			fmt.Printf("Shift reasons: %d inserted, %d already present.\n", res.ReasonsInserted, res.ReasonsSkipped)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Seed file (defaults to RULES_FILE)")
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, err := cfg.BusinessLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid business timezone")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "If-None-Match", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.ETag())

	// Shared infrastructure
	respCache := cache.New()
	sink := audit.NewSink(pool, logger)
	policy := auth.NewPolicy()

	// Repositories
	caseRepo := cases.NewRepo(pool)
	ruleRepo := rules.NewRepo(pool)
	ackRepo := ack.NewRepo(pool)
	dayRepo := ack.NewDayVersionRepo(pool)

	catalog := rules.NewCatalog(ruleRepo, time.Duration(cfg.RuleCacheTTL)*time.Second, logger)

	// Services
	caseSvc := cases.NewService(caseRepo)
	ruleSvc := rules.NewService(ruleRepo, catalog, sink, func() {
		// A catalog change can invalidate any fingerprint on any station.
		respCache.Invalidate("station:")
	})
	ackSvc := ack.NewService(ack.Deps{
		Pool:     pool,
		Cases:    caseRepo,
		Catalog:  catalog,
		Acks:     ackRepo,
		Days:     dayRepo,
		Policy:   policy,
		Audit:    sink,
		Location: loc,
		Logger:   logger,
		InvalidateCache: func(prefix string) {
			respCache.Invalidate(prefix)
		},
	})

	// Handlers
	responseTTL := time.Duration(cfg.ResponseCacheTTL) * time.Second
	cases.NewHandler(caseSvc, func(prefix string) {
		respCache.Invalidate(prefix)
	}).RegisterRoutes(apiV1)
	rules.NewHandler(ruleSvc).RegisterRoutes(apiV1)
	ack.NewHandler(ackSvc, respCache, responseTTL).RegisterRoutes(apiV1)

	e.GET("/health", db.HealthHandler(pool))

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}
