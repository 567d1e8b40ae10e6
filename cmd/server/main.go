package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nwalia/rentdesk/internal/config"
	"github.com/nwalia/rentdesk/internal/extract"
	"github.com/nwalia/rentdesk/internal/notify"
	"github.com/nwalia/rentdesk/internal/reconcile"
	"github.com/nwalia/rentdesk/internal/repository"
	"github.com/nwalia/rentdesk/internal/webhook"
	"github.com/nwalia/rentdesk/pkg/database"
	"github.com/nwalia/rentdesk/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	// Local development secrets live in .env; missing file is fine
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting rentdesk payment intake service",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("webhook_secret_configured", cfg.Webhook.Secret != ""),
		zap.Bool("extractor_configured", cfg.OpenAI.APIKey != ""))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	intakeRepo := repository.NewIntakeRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	paymentRepo := repository.NewPaymentRepository(db.DB, logger)
	tenancyRepo := repository.NewTenancyRepository(db.DB, logger)
	activityRepo := repository.NewActivityRepository(db.DB, logger)

	// Field extractor: without a key every intake routes to manual review
	var extractor extract.Extractor
	if cfg.OpenAI.APIKey != "" {
		extractor = extract.NewOpenAIExtractor(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Timeout,
			logger,
		)
	} else {
		logger.Warn("No extraction provider configured; all intakes will route to manual review")
		extractor = extract.Disabled{}
	}

	notifier := notify.New(notify.Config{
		Endpoints:   cfg.Notify.Endpoints,
		Timeout:     cfg.Notify.Timeout,
		MaxAttempts: cfg.Notify.MaxAttempts,
		BaseDelay:   cfg.Notify.BaseDelay,
	}, logger)

	ledger := reconcile.NewLedger(db, intakeRepo, invoiceRepo, paymentRepo, logger)
	pipeline := reconcile.NewPipeline(
		intakeRepo,
		invoiceRepo,
		tenancyRepo,
		activityRepo,
		extractor,
		ledger,
		notifier,
		logger,
	)

	handler := webhook.NewHandler(
		pipeline,
		intakeRepo,
		activityRepo,
		cfg.Webhook.Secret,
		cfg.OpenAI.APIKey != "",
		logger,
	)

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	router.GET("/health", handler.Health)
	router.POST(cfg.Webhook.Path, handler.HandleIntake)

	api := router.Group("/api/v1")
	{
		api.GET("/intake/:id", handler.HandleGetIntake)
		api.POST("/intake/:id/match", handler.HandleManualMatch)
		api.POST("/intake/:id/dismiss", handler.HandleDismiss)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
