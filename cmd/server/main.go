package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"restaurant-loyalty/backend/internal/config"
	"restaurant-loyalty/backend/internal/handlers"
	"restaurant-loyalty/backend/internal/lock"
	"restaurant-loyalty/backend/internal/logging"
	"restaurant-loyalty/backend/internal/loyalty"
	"restaurant-loyalty/backend/internal/store"
	"restaurant-loyalty/backend/internal/sweeper"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// init DB
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to init db", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr, DB: cfg.Lock.RedisDB})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.Lock.TTL)
	default:
		locker = lock.NewMemory()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := loyalty.New(db, locker, loyalty.Config{
		PointsUnit:       cfg.Loyalty.PointsUnit,
		ReferralReward:   cfg.Loyalty.ReferralReward,
		GrantTTLMonths:   cfg.Loyalty.GrantTTLMonths,
		InactivityMonths: cfg.Loyalty.InactivityMonths,
		LockTimeout:      cfg.Lock.Timeout,
	}, loyalty.WithLogger(logger.Named("loyalty")), loyalty.WithMetrics(loyalty.NewMetrics(reg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Expiration.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", zap.String("timezone", cfg.Expiration.Timezone), zap.Error(err))
		loc = time.UTC
	}
	go sweeper.NewScheduler(sweeper.Config{
		Sweeper:  svc,
		Policy:   cfg.Expiration.Policy,
		RunHour:  cfg.Expiration.SweepHour,
		Location: loc,
		Logger:   logger.Named("sweeper"),
	}).Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "hello world"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// register handlers
	handlers.New(db, svc, logger.Named("http"), cfg.Server.ConflictRetries).RegisterRoutes(r)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
