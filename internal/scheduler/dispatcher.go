package scheduler

import (
	"context"
	"errors"
	"time"

	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
)

// Grants maps an execution role to the single destination it may deliver to.
type Grants map[string]string

// Allows reports whether role may deliver to target.
func (g Grants) Allows(role, target string) bool {
	dest, ok := g[role]
	return ok && dest == target
}

type DispatcherConfig struct {
	Store    Store
	Producer kafka.ProducerClient
	Grants   Grants
	// PollInterval between claims. Defaults to one second.
	PollInterval time.Duration
	// ClaimBatch caps schedules claimed per poll. Defaults to 100.
	ClaimBatch int
	// Lease after which an undelivered claim becomes due again. Defaults to
	// one minute.
	Lease   time.Duration
	Metrics observability.MetricsCollector
	Logger  *logrus.Logger
	Now     func() time.Time
}

// Dispatcher fires due schedules: it publishes each payload to its target
// and deletes the schedule.
type Dispatcher struct {
	store    Store
	producer kafka.ProducerClient
	grants   Grants
	interval time.Duration
	batch    int
	lease    time.Duration
	metrics  observability.MetricsCollector
	logger   *logrus.Logger
	now      func() time.Time
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("schedule store is required")
	}
	if cfg.Producer == nil {
		return nil, errors.New("producer is required")
	}
	if len(cfg.Grants) == 0 {
		return nil, errors.New("at least one execution role grant is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
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

	return &Dispatcher{
		store:    cfg.Store,
		producer: cfg.Producer,
		grants:   cfg.Grants,
		interval: cfg.PollInterval,
		batch:    cfg.ClaimBatch,
		lease:    cfg.Lease,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.WithField("interval", d.interval.String()).Info("Dispatcher started")
	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("Dispatcher tick failed")
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims due schedules once and fires them. It returns how many were
// delivered.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	due, err := d.store.ClaimDue(ctx, d.now(), d.batch, d.lease)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, sched := range due {
		if d.fire(ctx, sched) {
			fired++
		}
	}
	return fired, nil
}

func (d *Dispatcher) fire(ctx context.Context, sched *Schedule) bool {
	logger := d.logger.WithFields(logrus.Fields{
		"schedule_name": sched.Name,
		"target":        sched.Target,
	})

	if !d.grants.Allows(sched.ExecutionRole, sched.Target) {
		d.metrics.IncFireFailed()
		logger.WithField("execution_role", sched.ExecutionRole).Error("Execution role not allowed to deliver to target, dropping schedule")
		d.delete(ctx, sched, logger)
		return false
	}

	messageID := ""
	if env, err := models.DecodeEnvelope(sched.Payload); err == nil {
		messageID = env.Metadata.MessageID
	}

	headers := map[string]string{
		models.HeaderScheduleName: sched.Name,
	}
	if messageID != "" {
		headers[models.HeaderMessageID] = messageID
	}

	if err := d.producer.Publish(ctx, sched.Target, messageID, sched.Payload, headers); err != nil {
		d.metrics.IncFireFailed()
		logger.WithError(err).Warn("Failed to deliver scheduled message, it will fire again after the lease")
		return false
	}

	d.metrics.IncFired()
	logger.WithField("message_id", messageID).Info("Scheduled message delivered")
	if sched.ActionAfterCompletion == ActionDelete {
		d.delete(ctx, sched, logger)
	}
	return true
}

func (d *Dispatcher) delete(ctx context.Context, sched *Schedule, logger *logrus.Entry) {
	if err := d.store.Delete(context.WithoutCancel(ctx), sched.Name); err != nil {
		logger.WithError(err).Error("Failed to delete schedule")
	}
}
