package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes consumed messages
type MessageHandler func(ctx context.Context, msg *models.Message) error

// ConsumerClient defines the interface for Kafka consumer operations
type ConsumerClient interface {
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrUnsettled is returned by Start when a failed message could neither be
// processed nor forwarded. The consumer stops so its offset is never
// committed past.
var ErrUnsettled = errors.New("message left unsettled")

// Consumer implements ConsumerClient with a worker pool. Each message is
// handed to the handler on its own; failed messages are forwarded to the
// failure topic. Offsets are committed in fetch order per partition.
type Consumer struct {
	reader       MessageReader
	producer     ProducerClient
	logger       *zap.Logger
	metrics      observability.MetricsCollector
	workers      int
	failureTopic string
	dedupeStore  DedupeStore
	offsets      *offsetTracker
	wg           sync.WaitGroup
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	Workers       int
	FetchMinBytes int
	FetchMaxBytes int
	// FailureTopic receives the raw message when the handler fails. Without
	// one, a handler failure stops the consumer.
	FailureTopic string
	Metrics      observability.MetricsCollector
	// DedupeStore is optional; nil disables duplicate detection.
	DedupeStore DedupeStore
	Logger      *zap.Logger
	// Reader overrides the kafka.Reader built from the fields above.
	Reader MessageReader
}

func NewConsumer(cfg ConsumerConfig, producer ProducerClient) *Consumer {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 5
	}

	reader := cfg.Reader
	if reader == nil {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.FetchMinBytes,
			MaxBytes:       cfg.FetchMaxBytes,
			CommitInterval: 0, // Manual commits
			StartOffset:    kafka.FirstOffset,
		})
	}

	return &Consumer{
		reader:       reader,
		producer:     producer,
		logger:       cfg.Logger.With(zap.String("topic", cfg.Topic)),
		metrics:      cfg.Metrics,
		workers:      cfg.Workers,
		failureTopic: cfg.FailureTopic,
		dedupeStore:  cfg.DedupeStore,
		offsets:      newOffsetTracker(),
	}
}

// Start begins consuming messages with worker pool and blocks until ctx is
// cancelled or a message is left unsettled.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting consumer", zap.Int("workers", c.workers))

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	msgChan := make(chan kafka.Message, c.workers*2)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx, stop, i, msgChan, handler)
	}

	c.wg.Add(1)
	go c.fetcher(runCtx, msgChan)

	c.wg.Wait()

	if ctx.Err() == nil {
		if err := context.Cause(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// fetcher reads messages from Kafka and sends to worker pool
func (c *Consumer) fetcher(ctx context.Context, msgChan chan<- kafka.Message) {
	defer c.wg.Done()
	defer close(msgChan)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Fetcher stopping due to context cancellation")
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.metrics.IncReceived()
		c.offsets.track(msg)

		select {
		case msgChan <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// worker processes messages from the channel
func (c *Consumer) worker(ctx context.Context, stop context.CancelCauseFunc, id int, msgChan <-chan kafka.Message, handler MessageHandler) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Worker stopping due to context cancellation", zap.Int("worker_id", id))
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}

			if err := c.processMessage(ctx, msg, handler, id); err != nil {
				stop(err)
				return
			}
		}
	}
}

// processMessage runs the handler for one message, then commits it or
// forwards it to the failure topic. A non-nil error means the message is
// unsettled and the consumer must stop.
func (c *Consumer) processMessage(ctx context.Context, kafkaMsg kafka.Message, handler MessageHandler, workerID int) error {
	msg := toInternalMessage(kafkaMsg)

	logger := c.logger.With(
		zap.Int("partition", kafkaMsg.Partition),
		zap.Int64("offset", kafkaMsg.Offset),
		zap.String("message_id", msg.ID),
		zap.Int("worker_id", workerID),
	)

	if c.dedupeStore != nil && msg.ID != "" && c.dedupeStore.Exists(msg.ID) {
		logger.Info("Duplicate message detected, skipping")
		c.commitMessage(ctx, kafkaMsg)
		return nil
	}

	err := handler(ctx, msg)
	if err == nil {
		c.metrics.IncProcessed()
		logger.Debug("Message processed successfully")

		if c.dedupeStore != nil && msg.ID != "" {
			if err := c.dedupeStore.Add(msg.ID); err != nil {
				logger.Warn("Failed to record processed message", zap.Error(err))
			}
		}

		c.commitMessage(ctx, kafkaMsg)
		return nil
	}

	c.metrics.IncFailed()
	logger.Warn("Message processing failed", zap.Error(err))

	if c.failureTopic == "" {
		logger.Error("No failure topic configured, stopping consumer")
		return fmt.Errorf("%w: partition %d offset %d: %w", ErrUnsettled, kafkaMsg.Partition, kafkaMsg.Offset, err)
	}

	if fwdErr := c.forwardFailure(ctx, msg, err); fwdErr != nil {
		logger.Error("Failed to forward message to failure topic, stopping consumer",
			zap.String("failure_topic", c.failureTopic),
			zap.Error(fwdErr),
		)
		return fmt.Errorf("%w: partition %d offset %d: forward to %s: %w", ErrUnsettled, kafkaMsg.Partition, kafkaMsg.Offset, c.failureTopic, fwdErr)
	}
	c.commitMessage(ctx, kafkaMsg)
	return nil
}

// commitMessage settles msg and commits the furthest offset of its
// partition that no longer has an earlier message in flight.
func (c *Consumer) commitMessage(ctx context.Context, msg kafka.Message) {
	commit, ok := c.offsets.settle(msg)
	if !ok {
		return
	}
	if err := c.reader.CommitMessages(context.WithoutCancel(ctx), commit); err != nil {
		c.logger.Error("Failed to commit message", zap.Int64("offset", commit.Offset), zap.Error(err))
	}
}

// forwardFailure publishes the unmodified value to the failure topic with
// the failure reason attached.
func (c *Consumer) forwardFailure(ctx context.Context, msg *models.Message, failureErr error) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[models.HeaderFailureReason] = failureErr.Error()
	headers[models.HeaderProcessedAt] = time.Now().UTC().Format(time.RFC3339)

	return c.producer.Publish(ctx, c.failureTopic, msg.Key, msg.Value, headers)
}

// toInternalMessage converts Kafka message to internal format
func toInternalMessage(kafkaMsg kafka.Message) *models.Message {
	headers := make(map[string]string, len(kafkaMsg.Headers))
	for _, h := range kafkaMsg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &models.Message{
		ID:        headers[models.HeaderMessageID],
		Key:       string(kafkaMsg.Key),
		Value:     kafkaMsg.Value,
		Headers:   headers,
		Timestamp: kafkaMsg.Time,
	}
}

// Close gracefully shuts down the consumer
func (c *Consumer) Close() error {
	c.logger.Info("Closing consumer")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}
