package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/saludtech/anonymization-service/internal/anonymization"
	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	"github.com/saludtech/anonymization-service/internal/anonymization/infrastructure"
	"github.com/saludtech/anonymization-service/internal/anonymizer"
	"github.com/saludtech/anonymization-service/internal/config"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	watermillLogAdapter "github.com/saludtech/anonymization-service/pkg/infrastructure/watermill/adapter"
	zapAdapter "github.com/saludtech/anonymization-service/pkg/infrastructure/zaplogger/adapter"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	appLogger, err := zapAdapter.NewZapAppLogger()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wmLogger := watermillLogAdapter.NewWatermillLoggerAdapter(appLogger)

	publisher, subscriber, closeBroker, err := buildBroker(cfg, wmLogger)
	if err != nil {
		appLogger.Error(ctx, "failed to initialize broker", map[string]interface{}{"error": err})
		panic(err)
	}
	defer closeBroker()

	uow, repository, err := buildStorage(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, "failed to initialize storage", map[string]interface{}{"error": err})
		panic(err)
	}

	idGenerator := func() uuid.UUID {
		return uuid.New()
	}

	eventPublisher := infrastructure.NewWatermillEventPublisher(publisher, anonymization.PublisherTopics(), appLogger)
	consumer := infrastructure.NewConsumer(subscriber, appLogger)

	slice := anonymization.NewSlice(uow, repository, eventPublisher, consumer, idGenerator, appLogger)

	topics := anonymization.ConsumerTopics()
	if cfg.Anonymizer.StubEnabled {
		worker := anonymizer.NewWorker(eventPublisher, cfg.StubDelay(), appLogger)
		consumer.RegisterEventHandler(
			domain.EventAnonymizationRequested,
			infrastructure.EventDispatcher[domain.AnonymizationRequested](worker),
		)
		topics = append(topics, anonymization.TopicAnonymizationRequests)
	}

	if err := consumer.Start(ctx, topics...); err != nil {
		appLogger.Error(ctx, "failed to start consumer", map[string]interface{}{"error": err})
		panic(err)
	}

	router := chi.NewRouter()
	slice.RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		appLogger.Info(ctx, "shutdown signal received", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	go func() {
		appLogger.Info(ctx, "server starting on "+cfg.HTTPAddr, nil)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error(ctx, "http server failed", map[string]interface{}{"error": err})
			cancel()
		}
	}()

	<-ctx.Done()
	appLogger.Info(context.Background(), "shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(context.Background(), "http shutdown failed", map[string]interface{}{"error": err})
	}

	// Closing the subscriber ends the receive loops; in-flight handlers get
	// the grace period before the process exits.
	if err := subscriber.Close(); err != nil {
		appLogger.Error(context.Background(), "subscriber close failed", map[string]interface{}{"error": err})
	}

	drained := make(chan struct{})
	go func() {
		consumer.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.ShutdownGrace()):
		appLogger.Error(context.Background(), "consumer loops did not drain in time", nil)
	}

	if err := publisher.Close(); err != nil {
		appLogger.Error(context.Background(), "publisher close failed", map[string]interface{}{"error": err})
	}

	appLogger.Info(context.Background(), "service stopped", nil)
}

func buildBroker(cfg *config.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func(), error) {
	switch cfg.Broker.Backend {
	case config.BrokerChannels:
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return pubSub, pubSub, func() {}, nil

	case config.BrokerKafka:
		marshaler := wmkafka.DefaultMarshaler{}

		publisher, err := wmkafka.NewPublisher(wmkafka.PublisherConfig{
			Brokers:   cfg.Broker.Kafka.Brokers,
			Marshaler: marshaler,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create kafka publisher: %w", err)
		}

		saramaConfig := sarama.NewConfig()
		saramaConfig.Version = sarama.V1_0_0_0
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
		saramaConfig.Consumer.Return.Errors = true
		saramaConfig.ClientID = "anonymization-service"

		subscriber, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:               cfg.Broker.Kafka.Brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         cfg.Broker.Kafka.ConsumerGroup,
			OverwriteSaramaConfig: saramaConfig,
			InitializeTopicDetails: &sarama.TopicDetail{
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}, logger)
		if err != nil {
			publisher.Close()
			return nil, nil, nil, fmt.Errorf("create kafka subscriber: %w", err)
		}

		return publisher, subscriber, func() {}, nil

	case config.BrokerRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Broker.Redis.Addr,
			Password: cfg.Broker.Redis.Password,
			DB:       cfg.Broker.Redis.DB,
		})

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: redisClient,
		}, logger)
		if err != nil {
			redisClient.Close()
			return nil, nil, nil, fmt.Errorf("create redis publisher: %w", err)
		}

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        redisClient,
			ConsumerGroup: cfg.Broker.Redis.ConsumerGroup,
			Consumer:      "anonymization-service",
		}, logger)
		if err != nil {
			publisher.Close()
			redisClient.Close()
			return nil, nil, nil, fmt.Errorf("create redis subscriber: %w", err)
		}

		return publisher, subscriber, func() { redisClient.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}

func buildStorage(cfg *config.Config, logger pkgApp.AppLogger) (domain.UnitOfWork, domain.TaskRepository, error) {
	switch cfg.Database.Backend {
	case config.StorageMemory:
		repo := infrastructure.NewInMemoryTaskRepository()
		return infrastructure.NewInMemoryUnitOfWork(repo), repo, nil

	case config.StoragePostgres:
		db, err := infrastructure.OpenGormDB(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return infrastructure.NewGormUnitOfWork(db, logger), infrastructure.NewGormTaskRepository(db, logger), nil

	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}
