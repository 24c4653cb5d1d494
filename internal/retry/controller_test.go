package retry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageID = "6d3c1f0a-92b4-4c1e-8f57-0b8e2d4a7c91"

type scheduledCall struct {
	MessageID string
	Payload   []byte
	FireAt    time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduledCall
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, id string, payload []byte, fireAt time.Time) (models.ScheduleHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ScheduleHandle{}, f.err
	}
	f.calls = append(f.calls, scheduledCall{MessageID: id, Payload: payload, FireAt: fireAt})
	return models.ScheduleHandle{Name: "schedule-1", FireAt: fireAt}, nil
}

type quarantined struct {
	Body      []byte
	ErrorType models.ErrorType
	Detail    string
}

type fakeSink struct {
	mu      sync.Mutex
	records []quarantined
	err     error
}

func (f *fakeSink) Quarantine(ctx context.Context, body []byte, errType models.ErrorType, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, quarantined{Body: body, ErrorType: errType, Detail: detail})
	return nil
}

type fixture struct {
	controller *Controller
	scheduler  *fakeScheduler
	sink       *fakeSink
	metrics    *observability.InMemoryMetrics
	hook       *test.Hook
	now        time.Time
}

func newFixture() *fixture {
	logger, hook := test.NewNullLogger()
	f := &fixture{
		scheduler: &fakeScheduler{},
		sink:      &fakeSink{},
		metrics:   observability.NewInMemoryMetrics(),
		hook:      hook,
		now:       time.Date(2026, 10, 19, 9, 0, 0, 400_000_000, time.UTC),
	}
	f.controller = NewController(ControllerConfig{
		Scheduler: f.scheduler,
		Sink:      f.sink,
		Limiter:   NewLimiter(5),
		Policy:    NewLinear(DefaultBackoffStep),
		Metrics:   f.metrics,
		Logger:    logger,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func body(retryCount string) []byte {
	meta := `"message_id":"` + messageID + `"`
	if retryCount != "" {
		meta += `,"retry_count":` + retryCount
	}
	return []byte(`{"metadata":{` + meta + `},"data":{"order_id": "ORD-2025-001234", "total":  51890.00}}`)
}

func notify(b []byte) Notification {
	return Notification{Records: []Record{{Body: b}}}
}

func TestController_FirstFailureSchedulesRetry(t *testing.T) {
	f := newFixture()

	result, err := f.controller.Handle(context.Background(), notify(body("")))
	require.NoError(t, err)

	assert.Equal(t, Continue, result.Verdict)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 1, 0, 0, time.UTC), result.NextRetryTime)
	assert.Equal(t, "schedule-1", result.Schedule.Name)

	require.Len(t, f.scheduler.calls, 1)
	call := f.scheduler.calls[0]
	assert.Equal(t, messageID, call.MessageID)
	assert.Equal(t, result.NextRetryTime, call.FireAt)

	env, err := models.DecodeEnvelope(call.Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Metadata.RetryCount)
	require.NotNil(t, env.Metadata.NextRetryTime)
	assert.Equal(t, call.FireAt, *env.Metadata.NextRetryTime)

	assert.Empty(t, f.sink.records)
	assert.Equal(t, int64(1), f.metrics.GetRetryScheduled())
}

func TestController_ExhaustedQuarantines(t *testing.T) {
	f := newFixture()
	in := body("5")

	result, err := f.controller.Handle(context.Background(), notify(in))
	require.NoError(t, err)

	assert.Equal(t, Exhausted, result.Verdict)
	assert.Equal(t, 6, result.RetryCount)
	assert.Empty(t, f.scheduler.calls)

	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.Equal(t, models.ErrorTypeRetryCountExceeded, rec.ErrorType)
	assert.Equal(t, "Max retry attempts 5 exceeded", rec.Detail)
	assert.Equal(t, in, rec.Body)
	assert.Equal(t, int64(1), f.metrics.GetQuarantined())
}

func TestController_LastAllowedAttempt(t *testing.T) {
	f := newFixture()

	result, err := f.controller.Handle(context.Background(), notify(body("4")))
	require.NoError(t, err)

	assert.Equal(t, Continue, result.Verdict)
	assert.Equal(t, 5, result.RetryCount)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC), result.NextRetryTime)
	assert.Empty(t, f.sink.records)
}

func TestController_SchedulingFailure(t *testing.T) {
	f := newFixture()
	f.scheduler.err = errors.New("service unavailable")

	result, err := f.controller.Handle(context.Background(), notify(body("1")))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSchedulingFailure)
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Empty(t, f.sink.records, "a failed schedule must not leave a quarantine write behind")
	assert.Equal(t, int64(1), f.metrics.GetScheduleFailed())
	assert.Equal(t, int64(0), f.metrics.GetRetryScheduled())
}

func TestController_SinkUnavailable(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("broker down")

	result, err := f.controller.Handle(context.Background(), notify(body("7")))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Empty(t, f.scheduler.calls)
	assert.Equal(t, int64(1), f.metrics.GetSinkFailed())
}

func TestController_MalformedNotification(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
	}{
		{name: "no records", n: Notification{}},
		{name: "not json", n: notify([]byte("{oops"))},
		{name: "no metadata", n: notify([]byte(`{"data":{}}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.controller.Handle(context.Background(), tt.n)

			assert.ErrorIs(t, err, ErrMalformedNotification)
			assert.Empty(t, f.scheduler.calls)
			assert.Empty(t, f.sink.records)
			assert.Equal(t, int64(1), f.metrics.GetMalformed())
		})
	}
}

func TestController_ProcessesOnlyFirstRecord(t *testing.T) {
	f := newFixture()
	n := Notification{Records: []Record{{Body: body("")}, {Body: body("3")}, {Body: body("5")}}}

	result, err := f.controller.Handle(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RetryCount)
	assert.Len(t, f.scheduler.calls, 1)
	assert.Empty(t, f.sink.records)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["dropped"] == 2 {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestController_PayloadRoundTrip(t *testing.T) {
	f := newFixture()
	in := body("2")

	_, err := f.controller.Handle(context.Background(), notify(in))
	require.NoError(t, err)
	require.Len(t, f.scheduler.calls, 1)

	var original, scheduled struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
		Data     json.RawMessage            `json:"data"`
	}
	require.NoError(t, json.Unmarshal(in, &original))
	require.NoError(t, json.Unmarshal(f.scheduler.calls[0].Payload, &scheduled))

	assert.Equal(t, []byte(original.Data), []byte(scheduled.Data))
	assert.Equal(t, original.Metadata["message_id"], scheduled.Metadata["message_id"])
}

func TestController_ReadsClockPerPass(t *testing.T) {
	f := newFixture()

	first, err := f.controller.Handle(context.Background(), notify(body("")))
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	second, err := f.controller.Handle(context.Background(), notify(f.scheduler.calls[0].Payload))
	require.NoError(t, err)

	assert.Equal(t, 2, second.RetryCount)
	assert.Equal(t, first.NextRetryTime.Add(10*time.Minute+time.Minute), second.NextRetryTime)
}

func TestController_EmitsObservabilityRecord(t *testing.T) {
	f := newFixture()

	_, err := f.controller.Handle(context.Background(), notify(body("")))
	require.NoError(t, err)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, messageID, entry.Data["message_id"])
	assert.Equal(t, 1, entry.Data["retry_count"])
	assert.Equal(t, "2026-10-19T09:01:00Z", entry.Data["next_retry_time"])
}

func TestController_FullLifecycle(t *testing.T) {
	f := newFixture()
	msg := body("")

	for attempt := 1; attempt <= 5; attempt++ {
		result, err := f.controller.Handle(context.Background(), notify(msg))
		require.NoError(t, err)
		require.Equal(t, Continue, result.Verdict)
		require.Equal(t, attempt, result.RetryCount)
		msg = f.scheduler.calls[len(f.scheduler.calls)-1].Payload
	}

	result, err := f.controller.Handle(context.Background(), notify(msg))
	require.NoError(t, err)
	assert.Equal(t, Exhausted, result.Verdict)
	assert.Equal(t, 6, result.RetryCount)
	assert.Len(t, f.scheduler.calls, 5)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, msg, f.sink.records[0].Body)
}
