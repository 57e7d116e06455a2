package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-lifecycle/internal/config"
	httpctl "order-lifecycle/internal/controllers/http"
	"order-lifecycle/internal/infra/cache"
	"order-lifecycle/internal/infra/inproc"
	mmysql "order-lifecycle/internal/infra/mysql"
	"order-lifecycle/internal/infra/rabbitmq"
	"order-lifecycle/internal/metrics"
	"order-lifecycle/internal/repository"
	"order-lifecycle/internal/repository/memory"
	mysqlrepo "order-lifecycle/internal/repository/mysql"
	"order-lifecycle/internal/services"
	"order-lifecycle/internal/subscribers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type eventBus interface {
	rabbitmq.PublisherInterface
	rabbitmq.SubscriberInterface
	Close() error
}

func main() {
	boot := config.NewLogger("info")
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("Starting order service...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orderRepo, productRepo := openStore(cfg, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     200,
		MinIdleConns: 20,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis not reachable yet, cache operations will fail until it is")
	}
	cancelPing()
	c := cache.New(redisClient, cache.WithTTL(cfg.CacheTTL), cache.WithMetrics(m), cache.WithLogger(logger))

	bus := openBus(cfg, logger, m)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.WithError(err).Error("bus close failed")
		}
	}()

	productSvc := services.NewProductService(productRepo, c, logger)
	stockSvc := services.NewStockService(productRepo, c, m, logger)
	orderSvc := services.NewOrderService(orderRepo, stockSvc, productSvc, c, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := subscribers.NewStatusChangedSubscriber(bus, orderSvc, logger).Start(ctx); err != nil {
		logger.Fatalf("subscriber: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpctl.RequestLogger(logger), httpctl.Metrics(m))
	httpctl.NewHandler(orderSvc, productSvc, m, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting order service on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func openStore(cfg *config.Config, logger *logrus.Logger) (repository.OrderRepository, repository.ProductRepository) {
	if !cfg.MySQL.Enabled() {
		logger.Warn("MYSQL_HOST not set, using in-memory store")
		return memory.NewOrderRepository(), memory.NewProductRepository()
	}
	db, err := mmysql.Open(cfg.MySQL)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	logger.Info("Database connection established.")
	return mysqlrepo.NewOrderRepository(db, logger), mysqlrepo.NewProductRepository(db, logger)
}

func openBus(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) eventBus {
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, events stay in-process")
		return inproc.New(inproc.WithLogger(logger), inproc.WithMetrics(m))
	}
	bus, err := rabbitmq.Dial(cfg.RabbitMQURL, rabbitmq.WithLogger(logger), rabbitmq.WithMetrics(m))
	if err != nil {
		logger.Fatalf("failed to init publisher: %v", err)
	}
	logger.Info("Connected to RabbitMQ")
	return bus
}
