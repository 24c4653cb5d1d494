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

// RetryController is the part of retry.Controller a RetryPass drives.
type RetryController interface {
	Handle(ctx context.Context, n retry.Notification) (*retry.Result, error)
}

// RetryPass feeds failed messages to the retry controller. A body the
// controller cannot read is quarantined, since no later pass could read it
// either. Every other failure is returned for the transport to redeliver.
type RetryPass struct {
	controller RetryController
	sink       retry.Sink
	logger     *logrus.Logger
}

func NewRetryPass(controller RetryController, sink retry.Sink) *RetryPass {
	return &RetryPass{
		controller: controller,
		sink:       sink,
		logger:     observability.GetLogger(),
	}
}

// Process handles one message from the failed-messages topic.
func (p *RetryPass) Process(ctx context.Context, msg *models.Message) error {
	_, err := p.controller.Handle(ctx, retry.NotificationFromMessage(msg))
	if err == nil || !errors.Is(err, retry.ErrMalformedNotification) {
		return err
	}

	errType := models.ErrorTypeInvalidMessageSchema
	if ve, ok := validator.AsValidationError(validator.Validate(msg.Value)); ok {
		errType = ve.Type
	}

	if qErr := p.sink.Quarantine(ctx, msg.Value, errType, err.Error()); qErr != nil {
		return fmt.Errorf("quarantine malformed message: %w", qErr)
	}
	p.logger.WithFields(logrus.Fields{
		"key":        msg.Key,
		"error_type": errType,
	}).Warn("Malformed failed message quarantined")
	return nil
}
