package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"

	mconfig "github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/internal"
	"github.com/antinvestor/service-messaging/internal/health"
	"github.com/antinvestor/service-messaging/service/business"
	"github.com/antinvestor/service-messaging/service/handlers"
	"github.com/antinvestor/service-messaging/service/queues"
	"github.com/antinvestor/service-messaging/service/repository"
)

// runService initializes and starts the messaging service with all dependencies.
func runService(ctx context.Context) error {
	// Initialize configuration
	cfg, err := config.FromEnv[mconfig.MessagingConfig]()
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return err
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return err
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_messaging"
	}

	// Validate shard configuration at startup to catch mismatches early
	if err = cfg.ValidateSharding(); err != nil {
		util.Log(ctx).WithError(err).Fatal("invalid shard configuration")
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(ctx, frame.WithConfig(&cfg), frame.WithDatastore())
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	workMan := svc.WorkManager()
	queueMan := svc.QueueManager()

	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	// Handle database migration if requested
	if cfg.DoDatabaseMigrate() {
		if err = repository.Migrate(ctx, svc, cfg.GetDatabaseMigrationPath()); err != nil {
			log.WithError(err).Fatal("main -- Could not migrate successfully")
		}
		return nil
	}

	messageRepo := repository.NewMessageRepository(ctx, dbPool, workMan)
	notificationRepo := repository.NewNotificationRepository(ctx, dbPool, workMan)
	presenceRepo := repository.NewPresenceRepository(ctx, dbPool, workMan)

	verifier := internal.NewJWTTokenVerifier(cfg.AuthTokenSecret)

	deadLetter := queues.NewDeadLetterPublisher(&cfg, queueMan)
	retryQueue := business.NewRetryQueue(cfg.RetryQueueDepthPerReceiver, deadLetter)
	notifier := queues.NewNotificationFanoutPublisher(&cfg, queueMan)

	gateway := business.NewSessionGateway(
		&cfg, business.NewRegistry(), retryQueue, verifier, messageRepo, notifier)
	presenceGateway := business.NewPresenceGateway(presenceRepo)

	wsHandler := handlers.NewWebSocketHandler(&cfg, gateway, presenceGateway)
	readSide := handlers.NewReadSideHandler(verifier, messageRepo, notificationRepo, presenceGateway.Tracker())

	healthHandler := setupHealthChecks(dbPool, gateway)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/ws", wsHandler.Messages)
	mux.HandleFunc("/ws/presence", wsHandler.Presence)
	readSide.Register(mux)

	serviceOptions := []frame.Option{frame.WithHTTPHandler(mux)}

	for i := range cfg.NotificationShardCount {
		fanoutQueueName := fmt.Sprintf(cfg.QueueNotificationFanoutName, i)
		fanoutQueueURI := cfg.QueueNotificationFanoutURI[i]

		serviceOptions = append(serviceOptions,
			frame.WithRegisterPublisher(fanoutQueueName, fanoutQueueURI),
			frame.WithRegisterSubscriber(
				fanoutQueueName,
				fanoutQueueURI,
				queues.NewNotificationFanoutQueueHandler(notificationRepo, gateway),
			))
	}

	deadLetterQueuePublisher := frame.WithRegisterPublisher(
		cfg.QueueDeadLetterName,
		cfg.QueueDeadLetterURI,
	)
	serviceOptions = append(serviceOptions, deadLetterQueuePublisher)

	// Initialize the service with all options
	svc.Init(ctx, serviceOptions...)

	// Start the service
	return svc.Run(ctx, "")
}

func main() {
	ctx := context.Background()
	if err := runService(ctx); err != nil {
		util.Log(ctx).WithError(err).Fatal("could not run service")
	}
}

// setupHealthChecks creates the health check handler with database and
// gateway capacity checkers.
func setupHealthChecks(dbPool pool.Pool, gateway *business.SessionGateway) *health.Handler {
	handler := health.NewHandler()

	handler.AddChecker(health.NewDatabaseChecker(dbPool, 5*time.Second))
	handler.AddChecker(health.NewPingChecker("gateway", gateway.CheckCapacity, time.Second))

	return handler
}
