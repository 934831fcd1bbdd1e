package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avdeenko/simflow/internal/browser"
	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/handlers"
	"github.com/avdeenko/simflow/internal/provider"
	"github.com/avdeenko/simflow/internal/repository"
	"github.com/avdeenko/simflow/internal/service"
	"github.com/avdeenko/simflow/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Infrastructure settings (ports, backing services) come from viper;
	// domain settings (countries, budgets, ledger) from the YAML config file.
	viper.SetConfigName("infra")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/app/configs")
	viper.AddConfigPath("./configs")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("rabbitmq.uri", "RABBITMQ_URL")
	_ = viper.BindEnv("mongodb.uri", "MONGODB_URI", "MONGO_URI")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR", "REDIS_ADDRESS")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("config.path", "SIMFLOW_CONFIG")

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnf("Infra config file not found, using env variables: %v", err)
	}

	viper.SetDefault("service.name", "simflow")
	viper.SetDefault("http.port", "8010")
	viper.SetDefault("config.path", "./configs/config.yaml")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mongodb.uri", "")
	viper.SetDefault("mongodb.database", "simflow")
	viper.SetDefault("rabbitmq.uri", "")

	cfg, err := config.LoadConfig(viper.GetString("config.path"))
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Redis, MongoDB and RabbitMQ are optional backings: without them the
	// service still verifies numbers, it just loses caching, history and
	// event publishing.
	var cacheService *service.CacheService
	if addr := viper.GetString("redis.addr"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			logger.Warnf("Redis unavailable, running without cache: %v", err)
		} else {
			cacheService = service.NewCacheService(redisClient, logger)
			defer redisClient.Close()
		}
	}

	var history *repository.HistoryRepository
	if uri := viper.GetString("mongodb.uri"); uri != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			logger.Warnf("MongoDB unavailable, running without history: %v", err)
		} else {
			defer mongoClient.Disconnect(ctx)
			db := mongoClient.Database(viper.GetString("mongodb.database"))
			history = repository.NewHistoryRepository(db, logger)
			if err := history.CreateIndexes(ctx); err != nil {
				logger.Warnf("Failed to create history indexes: %v", err)
			}
		}
	}

	var events *service.AMQPPublisher
	if uri := viper.GetString("rabbitmq.uri"); uri != "" {
		rabbitConn, err := amqp.Dial(uri)
		if err != nil {
			logger.Warnf("RabbitMQ unavailable, running without events: %v", err)
		} else {
			defer rabbitConn.Close()
			rabbitChannel, err := rabbitConn.Channel()
			if err != nil {
				logger.Warnf("Failed to open RabbitMQ channel: %v", err)
			} else {
				defer rabbitChannel.Close()
				events, err = service.NewAMQPPublisher(rabbitChannel, logger)
				if err != nil {
					logger.Warnf("Failed to declare event exchange: %v", err)
					events = nil
				}
			}
		}
	}

	// Core components.
	creds := provider.NewCredentialStore(cfg.Provider.CredentialsPath, logger)
	client := provider.NewClient(&cfg.Provider, creds, logger)
	ledger := store.NewLedger(&cfg.Ledger, logger)
	metricsCollector := service.NewMetricsCollector()

	policy := service.NewAcquisitionPolicy(
		client,
		ledger,
		&cfg.Acquisition,
		&cfg.Ledger,
		&cfg.Verification,
		metricsCollector,
		logger,
	)

	browserManager := browser.NewManager(&cfg.Browser, logger)
	if err := browserManager.Initialize(); err != nil {
		logger.Fatalf("Failed to initialize browser: %v", err)
	}
	defer browserManager.Shutdown()

	formFactory := browser.NewFormFactory(browserManager, &cfg.Browser, logger)

	orchestrator := service.NewOrchestrator(
		formFactory,
		policy,
		client,
		ledger,
		codeSource(cacheService),
		historyRecorder(history),
		eventPublisher(events),
		metricsCollector,
		&cfg.Verification,
		logger,
	)

	httpHandler := handlers.NewHTTPHandler(orchestrator, client, ledger, cacheService, history, cfg, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))

	router.GET("/health", httpHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/sms-webhook", httpHandler.SMSWebhook)

	verifyLimiter := handlers.NewRateLimiter(5, time.Minute)

	api := router.Group("/api/v1")
	{
		api.POST("/verify", verifyLimiter.Middleware(), httpHandler.Verify)
		api.GET("/ledger", httpHandler.ListNumbers)
		api.DELETE("/ledger/:number", httpHandler.DeleteNumber)
		api.GET("/ledger/stats", httpHandler.LedgerStats)
		api.GET("/balance", httpHandler.GetBalance)
		api.GET("/prices", httpHandler.GetPrices)
		api.GET("/prices/cheapest", httpHandler.GetCheapestCountry)
		api.GET("/statistics", httpHandler.GetStatistics)
		api.GET("/statistics/recent", httpHandler.RecentVerifications)
	}

	httpPort := viper.GetString("http.port")
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting HTTP server on port %s", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// The optional backings are passed through interfaces with typed-nil
// protection: a nil concrete pointer inside a non-nil interface would dodge
// the flow's nil checks.
func codeSource(c *service.CacheService) service.CodeSource {
	if c == nil {
		return nil
	}
	return c
}

func historyRecorder(h *repository.HistoryRepository) service.HistoryRecorder {
	if h == nil {
		return nil
	}
	return h
}

func eventPublisher(e *service.AMQPPublisher) service.EventPublisher {
	if e == nil {
		return nil
	}
	return e
}
