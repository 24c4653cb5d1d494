package scheduler

import (
	"context"
	"errors"
	"time"
)

// ActionDelete removes a schedule once it has fired.
const ActionDelete = "DELETE"

var (
	// ErrDuplicateName is returned by Create when the name is already taken.
	ErrDuplicateName = errors.New("schedule name already exists")
	// ErrClosed is returned by store methods after Close.
	ErrClosed = errors.New("store is closed")
)

// Schedule is a one-shot delivery of Payload to Target at FireAt.
type Schedule struct {
	Name          string
	FireAt        time.Time
	Target        string
	Payload       []byte
	ExecutionRole string
	Description   string
	// ActionAfterCompletion is always ActionDelete: schedules fire once.
	ActionAfterCompletion string
	CreatedAt             time.Time
}

// DelayedDelivery accepts new schedules.
type DelayedDelivery interface {
	Create(ctx context.Context, s *Schedule) error
}

// Store is a durable DelayedDelivery the dispatcher can drain.
type Store interface {
	DelayedDelivery

	// ClaimDue returns up to limit schedules with FireAt <= now and moves
	// their FireAt to now+lease, so an unfinished claim fires again once
	// the lease runs out. Returned schedules carry the moved FireAt.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*Schedule, error)

	// Delete removes a schedule. Deleting a missing schedule is not an error.
	Delete(ctx context.Context, name string) error

	// Pending returns the number of schedules not yet deleted.
	Pending(ctx context.Context) (int64, error)

	Close() error
}
