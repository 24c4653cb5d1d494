package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-retry/internal/config"
	"go-retry/internal/deadletter"
	"go-retry/internal/health"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/internal/service"
	"go-retry/pkg/models"

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
	if cfg.Processor.DeadLetterTopic == "" {
		return fmt.Errorf("invalid config: FINAL_DLQ_TOPIC or PROCESSOR_DLQ_TOPIC is required")
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

	sinkProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Acks:       cfg.Producer.Acks,
		Idempotent: cfg.Producer.Idempotent,
		SingleShot: true,
		Metrics:    metrics,
		Logger:     zapLogger.Named("dead-letter"),
	})
	defer sinkProducer.Close()

	sink, err := deadletter.NewKafkaSink(sinkProducer, cfg.Processor.DeadLetterTopic, cfg.Retry.MaxDetailBytes)
	if err != nil {
		return err
	}

	handler := service.Handler(func(ctx context.Context, env *models.Envelope) error {
		logger.WithField("message_id", env.Metadata.MessageID).Info("Handling order")
		return nil
	})
	if cfg.Processor.SimulateFailure {
		handler = service.FailingHandler
	}
	processor := service.NewMessageProcessor(sink, handler)

	dedupe := kafka.NewInMemoryDedupeStore(10 * time.Minute)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Processor.Topic,
		GroupID:       cfg.Processor.GroupID,
		Workers:       cfg.Processor.Workers,
		FetchMinBytes: cfg.Kafka.FetchMinBytes,
		FetchMaxBytes: cfg.Kafka.FetchMaxBytes,
		FailureTopic:  cfg.Processor.FailedTopic,
		Metrics:       metrics,
		DedupeStore:   dedupe,
		Logger:        zapLogger.Named("consumer"),
	}, producer)
	defer consumer.Close()

	client := kafka.NewClient(cfg.Kafka.Brokers, cfg.Processor.Topic, cfg.Processor.FailedTopic, cfg.Processor.DeadLetterTopic)

	server := health.NewServer(cfg.Processor.HTTPAddr, reg, cfg.HTTP.MetricsAPIKey, map[string]health.Check{
		"kafka": func(ctx context.Context) error {
			if !client.Healthy() {
				return fmt.Errorf("brokers %v unreachable", client.Brokers())
			}
			return nil
		},
	})

	logger.WithField("topic", cfg.Processor.Topic).Info("Starting processor")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(ctx, processor.Process)
	})
	g.Go(func() error {
		dedupe.Cleanup(ctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		client.Watch(ctx, cfg.Kafka.HealthPeriod)
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	err = g.Wait()
	logger.Info("Processor stopped")
	return err
}
