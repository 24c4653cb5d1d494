package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"go-retry/internal/config"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	topic := flag.String("topic", "", "topic to publish to (defaults to PROCESSOR_TOPIC)")
	count := flag.Int("count", 1, "number of orders to publish")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if *topic == "" {
		*topic = cfg.Processor.Topic
	}

	observability.InitLogger(cfg.Logging.Level)
	logger := observability.GetLogger()

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync()

	metrics := observability.NewInMemoryMetrics()
	kp := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Acks:        cfg.Producer.Acks,
		Retries:     cfg.Producer.Retries,
		Idempotent:  cfg.Producer.Idempotent,
		MaxRetries:  5,
		BaseBackoff: time.Second,
		Metrics:     metrics,
		Logger:      zapLogger,
	})
	defer kp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < *count; i++ {
		messageID := uuid.NewString()
		body, err := sampleOrder(messageID)
		if err != nil {
			log.Fatal(err)
		}

		headers := map[string]string{models.HeaderMessageID: messageID}
		if err := kp.Publish(ctx, *topic, messageID, body, headers); err != nil {
			logger.WithError(err).WithField("message_id", messageID).Error("Send message to kafka failed")
			continue
		}
		logger.WithField("message_id", messageID).Info("Send message to kafka success")
	}

	logger.WithField("published", metrics.GetPublished()).
		WithField("failed", metrics.GetPublishFailed()).
		Info("Done")
}

func sampleOrder(messageID string) ([]byte, error) {
	data, err := json.Marshal(map[string]interface{}{
		"event_type":  "order_created",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"order_id":    "ORD-2025-001234",
		"customer_id": "CUST-567890",
		"items": []interface{}{
			map[string]interface{}{
				"product_id": "PROD-111",
				"quantity":   1,
				"price":      42900.00,
			},
		},
		"total_amount": "42900.00",
		"currency":     "THB",
		"status":       "pending",
	})
	if err != nil {
		return nil, err
	}

	env := &models.Envelope{
		Metadata: models.RetryMetadata{MessageID: messageID},
		Data:     data,
	}
	return env.Encode()
}
