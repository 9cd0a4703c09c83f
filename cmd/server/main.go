package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/adapter/handler"
	"github.com/rl1809/voucher-seckill/internal/adapter/storage"
	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/config"
	"github.com/rl1809/voucher-seckill/internal/core/service"
	"github.com/rl1809/voucher-seckill/internal/idgen"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	_ = godotenv.Load()
	cfg := config.Load(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	log.Info("connected to redis")

	// Adapters
	redisStore := storage.NewRedisStore(rdb)
	mysqlStore := storage.NewMySQLStore(db)

	// Core
	ids := idgen.New(redisStore)
	cacheClient := cache.NewClient(redisStore, log)
	orderService := service.NewOrderService(redisStore, mysqlStore, mysqlStore, cacheClient, ids, log)
	shopService := service.NewShopService(mysqlStore, cacheClient)

	// Fulfillment worker
	worker := service.NewFulfillmentWorker(redisStore, mysqlStore, storage.OrderStream, log)
	if err := worker.Start(ctx); err != nil {
		log.Fatal("failed to start fulfillment worker", zap.Error(err))
	}
	log.Info("fulfillment worker started")

	// HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, shopService, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/purchase", httpHandler.Purchase)
	mux.HandleFunc("/api/order", httpHandler.OrderStatus)
	mux.HandleFunc("/api/shop", httpHandler.Shop)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	worker.Stop()
	log.Info("fulfillment worker stopped")

	rdb.Close()
	db.Close()
	log.Info("connections closed")
}
