package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/di"
	"github.com/buttermb/menulink/internal/events"
	"github.com/buttermb/menulink/internal/migrations"
	"github.com/buttermb/menulink/pkg/config"
	"github.com/buttermb/menulink/pkg/database"
	"github.com/buttermb/menulink/pkg/logger"
	"github.com/buttermb/menulink/pkg/middleware"
	"github.com/buttermb/menulink/pkg/redis"
	"github.com/buttermb/menulink/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       logLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  "stdout",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
		}); err != nil {
			logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
		}
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		RetryInterval:   2 * time.Second,
		ConnectTimeout:  10 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := migrations.Up(ctx, db.Pool()); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
	}

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		// Velocity windows degrade to per-process memory without Redis.
		logger.Warn("redis unavailable, rate limiting falls back to local memory", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var sink events.Sink
	if cfg.Kafka.Enabled {
		kafkaSink, err := events.NewKafkaSink(&events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			logger.Warn("kafka unavailable, events stay in-process", zap.Error(err))
		} else {
			sink = kafkaSink
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := kafkaSink.Close(closeCtx); err != nil {
					logger.Error("kafka sink close error", zap.Error(err))
				}
			}()
		}
	}

	keyring, err := crypto.NewDerivedKeyring(cfg.Crypto.MasterKey)
	if err != nil {
		logger.Fatal("invalid crypto master key", zap.Error(err))
	}

	container := di.NewContainer(&di.ContainerConfig{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Sink:   sink,
		Vault:  crypto.NewVault(keyring),
	})
	defer container.Close()

	if err := container.LifecycleWorker.Start(ctx); err != nil {
		logger.Fatal("failed to start lifecycle worker", zap.Error(err))
	}

	auditLogger := middleware.NewAuditLogger(middleware.DefaultAuditConfig(db.Pool()))
	defer auditLogger.Close()

	router := buildRouter(cfg, container, auditLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.App.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildRouter(cfg *config.Config, c *di.Container, auditLogger *middleware.AuditLogger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestMetrics())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Request-ID")
	router.Use(cors.New(corsConfig))

	// Health and readiness
	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)
	router.GET("/health/stats", c.HealthHandler.Stats)

	// Customer-facing surface: no auth, the token is the credential
	router.GET("/m/:token", c.AccessHandler.Resolve)

	v1 := router.Group("/api/v1")
	v1.POST("/access", c.AccessHandler.Validate)
	v1.POST("/access/screenshot-report", c.AccessHandler.ReportScreenshot)

	// Admin surface: tenant identity comes from the JWT
	admin := v1.Group("")
	admin.Use(middleware.JWTMiddleware(&middleware.JWTConfig{Secret: cfg.JWT.Secret}))
	admin.Use(middleware.AuditMiddleware(auditLogger))
	{
		admin.POST("/menus", c.AdminHandler.CreateMenu)
		admin.GET("/menus/expiring", c.AdminHandler.ListExpiring)
		admin.GET("/menus/:id", c.AdminHandler.GetMenu)
		admin.GET("/menus/:id/share-link", c.AdminHandler.GetShareLink)
		admin.POST("/menus/:id/archive", c.AdminHandler.ArchiveMenu)
		admin.POST("/menus/:id/reactivate", c.AdminHandler.ReactivateMenu)
		admin.POST("/menus/:id/burn", c.AdminHandler.BurnMenu)
		admin.POST("/menus/:id/orders", c.AdminHandler.RecordOrder)
		admin.GET("/menus/:id/snapshots", c.AdminHandler.ListSnapshots)
		admin.GET("/security-events", c.AdminHandler.ListSecurityEvents)
		admin.GET("/events/stream", c.StreamHandler.Stream)
	}

	return router
}
