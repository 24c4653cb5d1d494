package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
)

// Scheduler arranges a delayed re-delivery of payload at fireAt.
type Scheduler interface {
	Schedule(ctx context.Context, messageID string, payload []byte, fireAt time.Time) (models.ScheduleHandle, error)
}

// Sink durably records a message that will not be retried.
type Sink interface {
	Quarantine(ctx context.Context, body []byte, errType models.ErrorType, detail string) error
}

// Result describes a completed pass.
type Result struct {
	MessageID     string
	RetryCount    int
	Verdict       Verdict
	NextRetryTime time.Time
	Schedule      models.ScheduleHandle
}

type ControllerConfig struct {
	Scheduler Scheduler
	Sink      Sink
	Limiter   Limiter
	Policy    Policy
	Metrics   observability.MetricsCollector
	Logger    *logrus.Logger
	// Now is read once per pass at decision time. Defaults to time.Now.
	Now func() time.Time
}

// Controller runs one retry pass per failed message. It keeps no state
// between passes and is safe for concurrent use.
type Controller struct {
	scheduler Scheduler
	sink      Sink
	limiter   Limiter
	policy    Policy
	metrics   observability.MetricsCollector
	logger    *logrus.Logger
	now       func() time.Time
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Policy == nil {
		cfg.Policy = NewLinear(DefaultBackoffStep)
	}
	if cfg.Limiter.MaxAttempts <= 0 {
		cfg.Limiter = NewLimiter(DefaultMaxAttempts)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		scheduler: cfg.Scheduler,
		sink:      cfg.Sink,
		limiter:   cfg.Limiter,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Handle processes the first record of n. It either schedules another
// attempt or quarantines the message once the retry budget is spent.
// Every failure is returned so the caller's transport can redeliver.
func (c *Controller) Handle(ctx context.Context, n Notification) (*Result, error) {
	if len(n.Records) == 0 {
		c.metrics.IncMalformed()
		return nil, fmt.Errorf("%w: no records", ErrMalformedNotification)
	}
	if dropped := len(n.Records) - 1; dropped > 0 {
		c.logger.WithField("dropped", dropped).Warn("Notification carries more than one record, processing only the first")
	}

	body := n.Records[0].Body
	env, err := models.DecodeEnvelope(body)
	if err != nil {
		c.metrics.IncMalformed()
		c.logger.WithError(err).Error("Failed to decode failed message")
		return nil, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}

	env.Metadata = models.Increment(env.Metadata)
	md := env.Metadata

	logger := c.logger.WithFields(logrus.Fields{
		"message_id":  md.MessageID,
		"retry_count": md.RetryCount,
	})

	if c.limiter.Classify(md.RetryCount) == Exhausted {
		detail := fmt.Sprintf("Max retry attempts %d exceeded", c.limiter.MaxAttempts)
		if err := c.sink.Quarantine(ctx, body, models.ErrorTypeRetryCountExceeded, detail); err != nil {
			c.metrics.IncSinkFailed()
			logger.WithError(err).Error("Failed to quarantine message")
			return nil, ensureKind(err, ErrSinkUnavailable)
		}

		c.metrics.IncQuarantined()
		logger.WithField("error_type", models.ErrorTypeRetryCountExceeded).Info("Max retry attempts exceeded, message quarantined")
		return &Result{
			MessageID:  md.MessageID,
			RetryCount: md.RetryCount,
			Verdict:    Exhausted,
		}, nil
	}

	fireAt := NextFireTime(c.policy, c.now(), md.RetryCount)
	env.Metadata = md.WithNextRetryTime(fireAt)

	payload, err := env.Encode()
	if err != nil {
		c.metrics.IncScheduleFailed()
		return nil, fmt.Errorf("%w: encode message: %w", ErrSchedulingFailure, err)
	}

	handle, err := c.scheduler.Schedule(ctx, md.MessageID, payload, fireAt)
	if err != nil {
		c.metrics.IncScheduleFailed()
		logger.WithError(err).Error("Failed to schedule retry")
		return nil, ensureKind(err, ErrSchedulingFailure)
	}

	c.metrics.IncRetryScheduled()
	logger.WithFields(logrus.Fields{
		"next_retry_time": fireAt.Format(models.RetryTimeLayout),
		"schedule_name":   handle.Name,
	}).Info("Retry scheduled")

	return &Result{
		MessageID:     md.MessageID,
		RetryCount:    md.RetryCount,
		Verdict:       Continue,
		NextRetryTime: fireAt,
		Schedule:      handle,
	}, nil
}

func ensureKind(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
