package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go-retry/internal/config"
	"go-retry/internal/deadletter"
	"go-retry/internal/health"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/internal/retry"
	"go-retry/internal/scheduler"
	"go-retry/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	observability.InitLogger(cfg.Logging.Level)
	logger := observability.GetLogger()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create zap logger: %w", err)
	}
	defer zapLogger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewPrometheusMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Acks:       cfg.Producer.Acks,
		Retries:    cfg.Producer.Retries,
		Idempotent: cfg.Producer.Idempotent,
		Metrics:    metrics,
		Logger:     zapLogger.Named("producer"),
	})
	defer producer.Close()

	// A failed quarantine write surfaces to the consumer at once, which
	// forwards the whole pass instead of retrying inside the sink.
	sinkProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Acks:       cfg.Producer.Acks,
		Idempotent: cfg.Producer.Idempotent,
		SingleShot: true,
		Metrics:    metrics,
		Logger:     zapLogger.Named("dead-letter"),
	})
	defer sinkProducer.Close()

	store, err := openStore(cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("open schedule store: %w", err)
	}
	defer store.Close()

	sched, err := scheduler.New(store, cfg.Retry.TargetTopic, cfg.Retry.ExecutionRole)
	if err != nil {
		return err
	}

	sink, err := deadletter.NewKafkaSink(sinkProducer, cfg.Retry.DeadLetterTopic, cfg.Retry.MaxDetailBytes)
	if err != nil {
		return err
	}

	controller := retry.NewController(retry.ControllerConfig{
		Scheduler: sched,
		Sink:      sink,
		Limiter:   retry.NewLimiter(cfg.Retry.MaxAttempts),
		Policy:    retry.NewLinear(cfg.Retry.BackoffStep),
		Metrics:   metrics,
		Logger:    logger,
	})

	pass := service.NewRetryPass(controller, sink)

	dispatcher, err := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Store:        store,
		Producer:     producer,
		Grants:       scheduler.Grants{cfg.Retry.ExecutionRole: cfg.Retry.TargetTopic},
		PollInterval: cfg.Scheduler.PollInterval,
		ClaimBatch:   cfg.Scheduler.ClaimBatch,
		Lease:        cfg.Scheduler.Lease,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Retry.FailedTopic,
		GroupID:       cfg.Retry.GroupID,
		Workers:       cfg.Retry.Workers,
		FetchMinBytes: cfg.Kafka.FetchMinBytes,
		FetchMaxBytes: cfg.Kafka.FetchMaxBytes,
		FailureTopic:  cfg.Retry.PassFailureTopic,
		Metrics:       metrics,
		Logger:        zapLogger.Named("consumer"),
	}, producer)
	defer consumer.Close()

	client := kafka.NewClient(cfg.Kafka.Brokers, cfg.Retry.FailedTopic, cfg.Retry.TargetTopic, cfg.Retry.DeadLetterTopic)

	server := health.NewServer(cfg.HTTP.Addr, reg, cfg.HTTP.MetricsAPIKey, map[string]health.Check{
		"kafka": func(ctx context.Context) error {
			if !client.Healthy() {
				return fmt.Errorf("brokers %v unreachable", client.Brokers())
			}
			return nil
		},
		"schedules": func(ctx context.Context) error {
			_, err := store.Pending(ctx)
			return err
		},
	})

	logger.WithField("failed_topic", cfg.Retry.FailedTopic).Info("Starting retrier")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(ctx, pass.Process)
	})
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		client.Watch(ctx, cfg.Kafka.HealthPeriod)
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	err = g.Wait()
	logger.Info("Retrier stopped")
	return err
}

func openStore(cfg config.SchedulerConfig) (scheduler.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return scheduler.NewRedisStore(client, cfg.RedisPrefix)
	default:
		return scheduler.NewSQLiteStore(cfg.SQLitePath)
	}
}
