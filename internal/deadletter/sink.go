package deadletter

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go-retry/internal/kafka"
	"go-retry/internal/retry"
	"go-retry/pkg/models"
)

// DefaultMaxDetailBytes bounds the ErrorDetails attribute.
const DefaultMaxDetailBytes = 4096

// KafkaSink quarantines messages on a dead-letter topic. The body is written
// unmodified; the classification travels in the ErrorType and ErrorDetails
// headers.
type KafkaSink struct {
	producer       kafka.ProducerClient
	topic          string
	maxDetailBytes int
}

func NewKafkaSink(producer kafka.ProducerClient, topic string, maxDetailBytes int) (*KafkaSink, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("dead-letter topic is required")
	}
	if maxDetailBytes <= 0 {
		maxDetailBytes = DefaultMaxDetailBytes
	}
	return &KafkaSink{
		producer:       producer,
		topic:          topic,
		maxDetailBytes: maxDetailBytes,
	}, nil
}

// Quarantine implements retry.Sink.
func (s *KafkaSink) Quarantine(ctx context.Context, body []byte, errType models.ErrorType, detail string) error {
	headers := map[string]string{
		models.HeaderErrorType:    errType.String(),
		models.HeaderErrorDetails: truncate(detail, s.maxDetailBytes),
	}

	if err := s.producer.Publish(ctx, s.topic, messageKey(body), body, headers); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", retry.ErrSinkUnavailable, s.topic, err)
	}
	return nil
}

// messageKey keys the record by message id when the body carries one.
func messageKey(body []byte) string {
	env, err := models.DecodeEnvelope(body)
	if err != nil {
		return ""
	}
	return env.Metadata.MessageID
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
