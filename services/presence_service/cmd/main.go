package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/canvas-collab/pkg/jwt"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	httpAdapter "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/in/http"
	redisListener "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/in/redis"
	wsAdapter "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/in/ws"
	kafkaPub "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/kafka"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/memory"
	mysqlRepo "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/mysql"
	redisRepo "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/redis"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/routing"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/permission"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/session"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	os.Setenv("APP_ENV", env)

	// 加载配置
	cfg, logCfg, err := loadConfig(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化日志
	logCfg.Service = "presence-service"
	logger := zlog.MustInitGlobal(ctx, *logCfg)
	defer logger.Sync()
	logger.Info("presence_service starting",
		zap.String("env", env),
		zap.String("node_id", cfg.Session.NodeID))

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(metrics.Collectors()...)
	registry.MustRegister(zlog.Collectors()...)

	// 权限数据
	repo, closeRepo, err := initPermissionRepo(cfg)
	if err != nil {
		logger.Fatal("Failed to init permission repository", zap.Error(err))
	}
	defer closeRepo()
	resolver := permission.NewResolver(repo)

	// Redis 可选：会话目录和权限变更通知
	var (
		redisClient *redis.Client
		directory   out.SessionDirectory
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = initRedis(cfg)
		if err != nil {
			logger.Fatal("Failed to init redis", zap.Error(err))
		}
		defer redisClient.Close()
		directory = redisRepo.NewSessionDirectoryRedis(redisClient)
		logger.Info("Redis 连接成功")
	}

	opts := []session.Option{}
	if directory != nil {
		opts = append(opts, session.WithDirectory(directory))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafkaPub.NewLockPublisher(cfg.Kafka)
		if err != nil {
			logger.Fatal("Failed to init kafka publisher", zap.Error(err))
		}
		defer pub.Close()
		opts = append(opts, session.WithLockPublisher(pub))
		logger.Info("Kafka lock publisher ready", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	sessions := session.NewManager(cfg.Session, resolver, opts...)

	if redisClient != nil {
		listener := redisListener.NewPermissionListener(redisClient, cfg.Redis.PermissionChannel, sessions)
		if err := listener.Start(ctx); err != nil {
			logger.Fatal("Failed to subscribe permission changes", zap.Error(err))
		}
	}

	// 令牌签发
	tokens, err := jwt.NewManager(cfg.Token.Secret, cfg.Token.TTL)
	if err != nil {
		logger.Fatal("Failed to init token manager", zap.Error(err))
	}
	var router out.NodeRouter
	if len(cfg.Server.Nodes) > 0 {
		router = routing.NewNodeRing(0, cfg.Server.Nodes...)
	}
	tokenUseCase := application.NewTokenUseCase(tokens, resolver, directory, router, cfg.Session.NodeID)

	// HTTP 与 WebSocket
	limiter := httpAdapter.NewRateLimiter(cfg.RateLimit, nil)
	go limiter.RunCleanup(ctx, 10*time.Minute, time.Hour)

	wsServer := wsAdapter.NewServer(cfg.WS, tokens, sessions)
	handler := httpAdapter.NewRouter(httpAdapter.Deps{
		Tokens:    tokenUseCase,
		Sessions:  sessions,
		WS:        http.HandlerFunc(wsServer.HandleConnection),
		WebSecret: cfg.Token.WebSecret,
		Gatherer:  registry,
		Limiter:   limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	// 升级后 gorilla 会清掉这里设置的连接超时
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Presence service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown", zap.Error(err))
	}
	logger.Info("Server exited properly")
}

func initPermissionRepo(cfg *Config) (out.PermissionRepository, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		repo, err := memory.FromSeed(cfg.Storage.Seed)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Warn("using in-memory permission data, not for production")
		return repo, func() {}, nil
	default:
		db, err := mysqlRepo.Open(cfg.Storage.MySQL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return mysqlRepo.NewPermissionRepositoryMySQL(db), func() { _ = sqlDB.Close() }, nil
	}
}

func initRedis(cfg *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
