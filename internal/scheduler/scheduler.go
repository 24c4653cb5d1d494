package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-retry/internal/retry"
	"go-retry/pkg/models"

	"github.com/google/uuid"
)

// Scheduler creates retry schedules in a DelayedDelivery service. Every
// call creates exactly one schedule under a fresh random name.
type Scheduler struct {
	delivery      DelayedDelivery
	target        string
	executionRole string
	newName       func() string
	now           func() time.Time
}

// New returns a Scheduler delivering to target under executionRole. The role
// is the identity the dispatcher checks before delivering.
func New(delivery DelayedDelivery, target, executionRole string) (*Scheduler, error) {
	if delivery == nil {
		return nil, errors.New("delayed delivery service is required")
	}
	if target == "" {
		return nil, errors.New("retry target is required")
	}
	if executionRole == "" {
		return nil, errors.New("execution role is required")
	}

	return &Scheduler{
		delivery:      delivery,
		target:        target,
		executionRole: executionRole,
		newName:       uuid.NewString,
		now:           time.Now,
	}, nil
}

// Schedule implements retry.Scheduler.
func (s *Scheduler) Schedule(ctx context.Context, messageID string, payload []byte, fireAt time.Time) (models.ScheduleHandle, error) {
	sched := &Schedule{
		Name:                  s.newName(),
		FireAt:                fireAt.UTC().Truncate(time.Second),
		Target:                s.target,
		Payload:               payload,
		ExecutionRole:         s.executionRole,
		Description:           fmt.Sprintf("Schedule for message retry: %s", messageID),
		ActionAfterCompletion: ActionDelete,
		CreatedAt:             s.now().UTC(),
	}

	if err := s.delivery.Create(ctx, sched); err != nil {
		return models.ScheduleHandle{}, fmt.Errorf("%w: create schedule %s: %w", retry.ErrSchedulingFailure, sched.Name, err)
	}

	return models.ScheduleHandle{Name: sched.Name, FireAt: sched.FireAt}, nil
}
