package service

import (
	"context"
	"errors"
	"fmt"

	"go-retry/internal/observability"
	"go-retry/internal/retry"
	"go-retry/internal/validator"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
)

// Handler runs the business logic for a valid intake message.
type Handler func(ctx context.Context, env *models.Envelope) error

// ErrSimulatedFailure is returned by FailingHandler.
var ErrSimulatedFailure = errors.New("this exception is intentionally thrown")

// FailingHandler rejects every message, which drives it through the retry
// path. Useful for exercising the pipeline end to end.
func FailingHandler(ctx context.Context, env *models.Envelope) error {
	return ErrSimulatedFailure
}

// MessageProcessor validates intake messages and hands valid ones to the
// business handler. Invalid messages are quarantined and never retried.
type MessageProcessor struct {
	logger   *logrus.Logger
	sink     retry.Sink
	handler  Handler
	validate func(body []byte) error
}

func NewMessageProcessor(sink retry.Sink, handler Handler) *MessageProcessor {
	return &MessageProcessor{
		logger:   observability.GetLogger(),
		sink:     sink,
		handler:  handler,
		validate: validator.Validate,
	}
}

// Process handles one consumed message. A returned error means the message
// should go down the retry path.
func (p *MessageProcessor) Process(ctx context.Context, msg *models.Message) error {
	logger := p.logger.WithFields(logrus.Fields{
		"key":        msg.Key,
		"message_id": msg.ID,
	})
	logger.Debug("Message received")

	if err := p.validate(msg.Value); err != nil {
		ve, ok := validator.AsValidationError(err)
		if !ok {
			return err
		}
		if err := p.sink.Quarantine(ctx, msg.Value, ve.Type, ve.Err.Error()); err != nil {
			return fmt.Errorf("quarantine invalid message: %w", err)
		}
		logger.WithField("error_type", ve.Type).Warn("Invalid message quarantined")
		return nil
	}

	env, err := models.DecodeEnvelope(msg.Value)
	if err != nil {
		// a body no pass can read is never retried
		errType := models.ErrorTypeInvalidMessageSchema
		if qErr := p.sink.Quarantine(ctx, msg.Value, errType, err.Error()); qErr != nil {
			return fmt.Errorf("quarantine unreadable message: %w", qErr)
		}
		logger.WithField("error_type", errType).Warn("Unreadable message quarantined")
		return nil
	}

	logger = logger.WithFields(logrus.Fields{
		"message_id":  env.Metadata.MessageID,
		"retry_count": env.Metadata.RetryCount,
	})

	if err := p.handler(ctx, env); err != nil {
		logger.WithError(err).Warn("Message processing failed")
		return err
	}

	logger.Info("Message processed successfully")
	return nil
}
