package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipment-service/config"
	"shipment-service/internal/api"
	"shipment-service/internal/broker"
	"shipment-service/internal/notify"
	"shipment-service/internal/poller"
	"shipment-service/internal/redisclient"
	"shipment-service/internal/service"
	"shipment-service/internal/store"
	"shipment-service/internal/util"
	"shipment-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shipment service")

	tp, err := util.InitTracer("shipment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLifecycle)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	carrierClient := service.NewCarrierClient(
		redisClient,
		cfg.Carrier.CarrierAEndpoint, cfg.Carrier.CarrierAKey,
		cfg.Carrier.CarrierBEndpoint, cfg.Carrier.CarrierBKey,
		time.Duration(cfg.Carrier.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Carrier.CacheTTLSeconds)*time.Second,
	)
	documentClient := service.NewDocumentClient(cfg.Documents.RenderEndpoint)
	paymentClient := service.NewPaymentClient(cfg.Payments.ReversalEndpoint)

	lifecycleService := service.NewLifecycleService(
		db, documentClient, eventPublisher, redisClient,
		cfg.Business.AuthorizationEarningsCents,
		cfg.Business.SignatureValueThresholdCents,
	)
	refundService := service.NewRefundService(db, paymentClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	statusPoller := poller.NewPoller(
		db, carrierClient, lifecycleService, redisClient,
		time.Duration(cfg.Poller.IntervalSeconds)*time.Second,
		cfg.Poller.BatchSize,
	)
	go statusPoller.Start(workerCtx)

	dispatcher := notify.NewRelayDispatcher(cfg.Notify.RelayEndpoint)
	lifecycleConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLifecycle, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(lifecycleConsumer, dispatcher, redisClient)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(lifecycleService, refundService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
