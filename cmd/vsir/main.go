package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sooshee9/AIR01/internal/config"
	"github.com/sooshee9/AIR01/internal/middleware"
	"github.com/sooshee9/AIR01/internal/vsir/handler"
	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
	"github.com/sooshee9/AIR01/internal/vsir/service"
	"github.com/sooshee9/AIR01/internal/vsir/sse"
	"github.com/sooshee9/AIR01/internal/vsir/store"
	"github.com/sooshee9/AIR01/internal/vsir/store/gormstore"
	"github.com/sooshee9/AIR01/internal/vsir/store/mongostore"
	"github.com/sooshee9/AIR01/internal/vsir/store/notify"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// backend is the persistence chosen by vsir.store_driver.
type backend struct {
	records store.RecordRepository
	docs    store.DocumentRepository
	logs    store.ActivityLogRepository
	ping    func(ctx context.Context) error
	close   func()
}

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting vsir service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("store_driver", cfg.VSIR.StoreDriver),
		zap.String("notifier", cfg.VSIR.Notifier),
	)

	// 初始化存储
	be, err := initBackend(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to init store", zap.Error(err))
	}
	defer be.close()

	// 变更通知
	var changes notify.Notifier
	if cfg.VSIR.Notifier == "redis" {
		rdb := initRedis(cfg.Redis)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		changes = notify.NewRedisNotifier(rdb, zapLogger)
	} else {
		changes = notify.NewHub(zapLogger)
	}
	defer changes.Close()

	records := store.NewRecords(be.records, changes, zapLogger)
	docs := store.NewDocuments(be.docs, changes, zapLogger)

	executor := reconcile.NewExecutor(records, cfg.VSIR.MaxConcurrentWrites, zapLogger)
	hub := sse.NewHub(zapLogger)
	activity := service.NewActivityService(be.logs, zapLogger)

	manager := service.NewManager(service.Options{
		Records:        records,
		Documents:      docs,
		Dispatcher:     executor,
		Publisher:      hub,
		Activity:       activity,
		ConfirmTimeout: cfg.VSIR.ConfirmTimeout,
		EventBuffer:    cfg.VSIR.EventBuffer,
		Logger:         zapLogger,
	})

	vsirHandler := handler.NewVSIRHandler(handler.Deps{
		Manager:        manager,
		Documents:      docs,
		Export:         service.NewExportService(initMinIO(cfg.MinIO, zapLogger), cfg.MinIO.Bucket, zapLogger),
		Hub:            hub,
		BulkPermission: cfg.VSIR.BulkPermission,
		Logger:         zapLogger,
	})

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/vsir/events"})))

	registerRoutes(router, vsirHandler, be, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE and confirmation-gated toggles are long-lived
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Pending confirmations are declined and open event streams end before the listener drains.
	manager.Close()
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	executor.Wait()
	activity.Wait()

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initBackend(cfg *config.Config) (*backend, error) {
	if cfg.VSIR.StoreDriver == "mongo" {
		client, err := mongostore.Connect(context.Background(), cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		db := client.Database(cfg.Mongo.Database)
		if err := mongostore.EnsureIndexes(context.Background(), db); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create mongo indexes: %w", err)
		}
		return &backend{
			records: mongostore.NewRecordRepository(db),
			docs:    mongostore.NewDocumentRepository(db),
			logs:    mongostore.NewActivityLogRepository(db),
			ping: func(ctx context.Context) error {
				return client.Ping(ctx, nil)
			},
			close: func() { client.Disconnect(context.Background()) },
		}, nil
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate vsir tables: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	repos := gormstore.NewRepositories(db)
	return &backend{
		records: repos.Record,
		docs:    repos.Document,
		logs:    repos.ActivityLog,
		ping:    sqlDB.PingContext,
		close:   func() { sqlDB.Close() },
	}, nil
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// initMinIO returns nil when no endpoint is configured; exports are then not archived.
func initMinIO(cfg config.MinIOConfig, zapLogger *zap.Logger) *minio.Client {
	if cfg.Endpoint == "" {
		return nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		zapLogger.Warn("MinIO disabled", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		return nil
	}
	return client
}

func registerRoutes(r *gin.Engine, h *handler.VSIRHandler, be *backend, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		if err := be.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	// API v1
	v1 := r.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret))
	h.RegisterRoutes(v1)
}
