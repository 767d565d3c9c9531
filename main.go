package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"productflow/config"
	"productflow/middleware"
	"productflow/phase"
	"productflow/realtime"
	"productflow/routes"
	"productflow/services"
	"productflow/store"
	"productflow/telemetry"
	"productflow/utils"
	"productflow/worker"
)

const (
	serviceName = "productflow"
	version     = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:          "productflow",
	Short:        "Product lifecycle workflow service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event stream and review reminder worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		flush, err := bootstrap()
		if err != nil {
			return err
		}
		defer flush()
		defer config.CloseDB()
		return config.MigrateDB()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration, sets up logging and connects the database.
func bootstrap() (func(), error) {
	if err := config.LoadConfig(); err != nil {
		return func() {}, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.AppConfig
	flush, err := utils.SetupLogging(cfg.LogLevel, cfg.IsProduction(), cfg.SentryDSN, cfg.Environment)
	if err != nil {
		logrus.WithError(err).Warn("Sentry initialization failed, continuing without it")
	}
	if err := config.ConnectDB(); err != nil {
		flush()
		return func() {}, err
	}
	return flush, nil
}

func loadCatalog(path string) (*phase.Catalog, error) {
	if path == "" {
		return phase.DefaultCatalog()
	}
	return phase.LoadCatalogFile(path)
}

func serve(ctx context.Context) error {
	flush, err := bootstrap()
	if err != nil {
		return err
	}
	defer flush()
	defer config.CloseDB()
	cfg := config.AppConfig
	log := utils.Component("main")

	if err := telemetry.Init(ctx, cfg.OTelEnabled, cfg.OTelStdout, serviceName, version); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	catalog, err := loadCatalog(cfg.PhaseCatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load phase catalog: %w", err)
	}

	if cfg.DBAutoMigrate {
		if err := config.MigrateDB(); err != nil {
			return err
		}
	}

	st := store.NewGormStore(config.DB)
	hub := realtime.NewHub(0)
	deps := routes.Dependencies{
		Store:     st,
		Hub:       hub,
		Issuer:    utils.NewTokenIssuer(cfg.JWTSecret),
		RateLimit: cfg.RateLimitWrite,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		deps.RateStorage = middleware.NewRedisStorage(client)

		bridge := realtime.NewRedisBridge(client, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				utils.LogError("redis_bridge", err, nil)
			}
		}()
	}

	mailer := utils.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.FromEmail, cfg.SMTP.FromName)
	lifecycle := services.NewLifecycle(st, catalog, hub, mailer, cfg.AppURL)
	deps.Lifecycle = lifecycle

	reminders := worker.NewReviewReminderWorker(st, lifecycle, mailer, cfg.ReviewReminderAfter, cfg.ReviewReminderInterval)
	go reminders.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins...)))

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": version,
		})
	})

	routes.SetupAuthRoutes(app, deps)
	routes.SetupAPIRoutes(app, deps)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.ServerPort).Info("Server starting")
		errCh <- app.Listen(":" + cfg.ServerPort)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	return nil
}
