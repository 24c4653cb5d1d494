package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go-retry/internal/observability"
	"go-retry/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(reader *MockReader, producer *MockProducer, dedupe DedupeStore, failureTopic string) (*Consumer, *observability.InMemoryMetrics) {
	metrics := observability.NewInMemoryMetrics()
	consumer := NewConsumer(ConsumerConfig{
		Topic:        "test-topic",
		GroupID:      "test-group",
		Workers:      2,
		FailureTopic: failureTopic,
		Metrics:      metrics,
		DedupeStore:  dedupe,
		Reader:       reader,
	}, producer)
	return consumer, metrics
}

func TestConsumer_ProcessMessage_Success(t *testing.T) {
	reader := NewMockReader()
	mockProducer := NewMockProducer()
	mockDedupe := NewMockDedupeStore()
	consumer, metrics := newTestConsumer(reader, mockProducer, mockDedupe, "failed")

	msg := &models.Message{
		Key:   "test-key",
		Value: []byte("test-value"),
		Headers: map[string]string{
			models.HeaderMessageID: "msg-123",
		},
		Timestamp: time.Now(),
	}
	kafkaMsg := createKafkaMessage(msg)

	handlerCalled := false
	handler := func(ctx context.Context, m *models.Message) error {
		handlerCalled = true
		assert.Equal(t, "msg-123", m.ID)
		assert.Equal(t, msg.Key, m.Key)
		assert.Equal(t, msg.Value, m.Value)
		return nil
	}

	consumer.processMessage(context.Background(), kafkaMsg, handler, 0)

	assert.True(t, handlerCalled)
	assert.Equal(t, int64(1), metrics.GetProcessed())
	assert.True(t, mockDedupe.Exists("msg-123"))
	assert.Len(t, mockProducer.GetPublishedMessages(), 0)
	assert.Len(t, reader.GetCommitted(), 1)
}

func TestConsumer_ProcessMessage_ForwardsFailure(t *testing.T) {
	reader := NewMockReader()
	mockProducer := NewMockProducer()
	consumer, metrics := newTestConsumer(reader, mockProducer, nil, "failed-messages")

	msg := &models.Message{
		Key:   "test-key",
		Value: []byte(`{"metadata":{"message_id":"m"},"data":{}}`),
		Headers: map[string]string{
			models.HeaderMessageID: "msg-456",
		},
	}

	handler := func(ctx context.Context, m *models.Message) error {
		return fmt.Errorf("processing failed")
	}

	consumer.processMessage(context.Background(), createKafkaMessage(msg), handler, 0)

	assert.Equal(t, int64(1), metrics.GetFailed())

	published := mockProducer.GetPublishedMessages()
	require.Len(t, published, 1)
	assert.Equal(t, "failed-messages", published[0].Topic)
	assert.Equal(t, msg.Value, published[0].Value)
	assert.Equal(t, "msg-456", published[0].Headers[models.HeaderMessageID])
	assert.Contains(t, published[0].Headers[models.HeaderFailureReason], "processing failed")
	assert.Len(t, reader.GetCommitted(), 1)
}

func TestConsumer_ProcessMessage_ForwardFailsLeavesUncommitted(t *testing.T) {
	reader := NewMockReader()
	mockProducer := NewMockProducer()
	mockProducer.FailCount = 1
	consumer, _ := newTestConsumer(reader, mockProducer, nil, "failed-messages")

	handler := func(ctx context.Context, m *models.Message) error {
		return fmt.Errorf("boom")
	}

	err := consumer.processMessage(context.Background(), createKafkaMessage(&models.Message{Key: "k"}), handler, 0)

	assert.ErrorIs(t, err, ErrUnsettled)
	assert.Empty(t, reader.GetCommitted())
}

func TestConsumer_ProcessMessage_NoFailureTopic(t *testing.T) {
	reader := NewMockReader()
	mockProducer := NewMockProducer()
	consumer, metrics := newTestConsumer(reader, mockProducer, nil, "")

	handler := func(ctx context.Context, m *models.Message) error {
		return fmt.Errorf("boom")
	}

	err := consumer.processMessage(context.Background(), createKafkaMessage(&models.Message{Key: "k"}), handler, 0)

	assert.ErrorIs(t, err, ErrUnsettled)
	assert.Equal(t, int64(1), metrics.GetFailed())
	assert.Empty(t, mockProducer.GetPublishedMessages())
	assert.Empty(t, reader.GetCommitted())
}

func TestConsumer_ProcessMessage_Deduplication(t *testing.T) {
	reader := NewMockReader()
	mockProducer := NewMockProducer()
	mockDedupe := NewMockDedupeStore()
	mockDedupe.Add("duplicate-msg")
	consumer, metrics := newTestConsumer(reader, mockProducer, mockDedupe, "failed")

	msg := &models.Message{
		Key:   "test-key",
		Value: []byte("test-value"),
		Headers: map[string]string{
			models.HeaderMessageID: "duplicate-msg",
		},
	}

	handlerCalled := false
	handler := func(ctx context.Context, m *models.Message) error {
		handlerCalled = true
		return nil
	}

	consumer.processMessage(context.Background(), createKafkaMessage(msg), handler, 0)

	assert.False(t, handlerCalled)
	assert.Equal(t, int64(0), metrics.GetProcessed())
	assert.Len(t, reader.GetCommitted(), 1)
}

func TestConsumer_Start_ProcessesUntilCancelled(t *testing.T) {
	msgs := []kafka.Message{
		createKafkaMessage(&models.Message{Key: "a", Value: []byte("1")}),
		createKafkaMessage(&models.Message{Key: "b", Value: []byte("2")}),
		createKafkaMessage(&models.Message{Key: "c", Value: []byte("3")}),
	}
	reader := NewMockReader(msgs...)
	consumer, metrics := newTestConsumer(reader, NewMockProducer(), nil, "failed")

	var handled atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx, func(ctx context.Context, m *models.Message) error {
			handled.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, int64(3), metrics.GetReceived())
	assert.Len(t, reader.GetCommitted(), 3)
}

func TestConsumer_Start_FailedMessageForwardedWhileLaterOneSucceeds(t *testing.T) {
	reader := NewMockReader(
		kafkaMessageAt(10, "first"),
		kafkaMessageAt(11, "second"),
	)
	mockProducer := NewMockProducer()
	consumer, _ := newTestConsumer(reader, mockProducer, nil, "failed-messages")

	secondDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx, func(ctx context.Context, m *models.Message) error {
			if m.Key == "second" {
				close(secondDone)
				return nil
			}
			<-secondDone
			return fmt.Errorf("scheduling failure")
		})
	}()

	require.Eventually(t, func() bool { return len(reader.GetCommitted()) > 0 && consumer.offsets.outstanding() == 0 },
		2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	forwarded := mockProducer.MessagesFor("failed-messages")
	require.Len(t, forwarded, 1)
	assert.Equal(t, []byte("first"), forwarded[0].Value)

	committed := reader.GetCommitted()
	assert.Equal(t, int64(11), committed[len(committed)-1].Offset)
}

func TestConsumer_Start_StopsWhenFailedMessageCannotBeForwarded(t *testing.T) {
	reader := NewMockReader(
		kafkaMessageAt(10, "first"),
		kafkaMessageAt(11, "second"),
	)
	mockProducer := NewMockProducer()
	mockProducer.FailCount = 100
	consumer, _ := newTestConsumer(reader, mockProducer, nil, "failed-messages")

	secondDone := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(context.Background(), func(ctx context.Context, m *models.Message) error {
			if m.Key == "second" {
				close(secondDone)
				return nil
			}
			<-secondDone
			return fmt.Errorf("scheduling failure")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnsettled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	// offset 11 finished first but must not be committed past offset 10
	assert.Empty(t, reader.GetCommitted())
	assert.Empty(t, mockProducer.GetPublishedMessages())
}

func TestConsumer_Start_StopsWithoutFailureTopic(t *testing.T) {
	reader := NewMockReader(kafkaMessageAt(10, "first"), kafkaMessageAt(11, "second"))
	consumer, _ := newTestConsumer(reader, NewMockProducer(), nil, "")
	consumer.workers = 1

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(context.Background(), func(ctx context.Context, m *models.Message) error {
			if m.Key == "first" {
				return fmt.Errorf("sink unavailable")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnsettled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.GetCommitted())
}

func TestOffsetTracker_CommitsInFetchOrder(t *testing.T) {
	tracker := newOffsetTracker()
	m10, m11, m12 := kafkaMessageAt(10, "a"), kafkaMessageAt(11, "b"), kafkaMessageAt(12, "c")
	other := kafkaMessageAt(3, "d")
	other.Partition = 1

	for _, m := range []kafka.Message{m10, m11, m12, other} {
		tracker.track(m)
	}

	_, ok := tracker.settle(m12)
	assert.False(t, ok)
	_, ok = tracker.settle(m11)
	assert.False(t, ok)

	commit, ok := tracker.settle(other)
	require.True(t, ok)
	assert.Equal(t, int64(3), commit.Offset)

	commit, ok = tracker.settle(m10)
	require.True(t, ok)
	assert.Equal(t, int64(12), commit.Offset)
	assert.Zero(t, tracker.outstanding())

	// untracked messages commit as they are
	commit, ok = tracker.settle(kafkaMessageAt(99, "e"))
	require.True(t, ok)
	assert.Equal(t, int64(99), commit.Offset)
}

func TestConsumer_Close(t *testing.T) {
	reader := NewMockReader()
	consumer, _ := newTestConsumer(reader, NewMockProducer(), nil, "")

	require.NoError(t, consumer.Close())
	assert.True(t, reader.Closed)
}

func TestToInternalMessage(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "No message id header",
			headers:  map[string]string{},
			expected: "",
		},
		{
			name: "With message id header",
			headers: map[string]string{
				models.HeaderMessageID: "abc",
			},
			expected: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := toInternalMessage(createKafkaMessage(&models.Message{Headers: tt.headers}))
			assert.Equal(t, tt.expected, msg.ID)
		})
	}
}

func TestInMemoryDedupeStore(t *testing.T) {
	store := NewInMemoryDedupeStore(100 * time.Millisecond)

	assert.False(t, store.Exists("msg-1"))

	err := store.Add("msg-1")
	require.NoError(t, err)
	assert.True(t, store.Exists("msg-1"))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, store.Exists("msg-1"))
	assert.Equal(t, 1, store.Len())

	store.evict(time.Now())
	assert.Equal(t, 0, store.Len())
}

func TestMockDedupeStore(t *testing.T) {
	mock := NewMockDedupeStore()

	assert.False(t, mock.Exists("msg-1"))

	err := mock.Add("msg-1")
	require.NoError(t, err)
	assert.True(t, mock.Exists("msg-1"))

	mock.ExistsFunc = func(messageID string) bool {
		return messageID == "always-exists"
	}

	assert.True(t, mock.Exists("always-exists"))
	assert.False(t, mock.Exists("msg-1"))

	mock.Reset()
	mock.ExistsFunc = nil
	assert.False(t, mock.Exists("msg-1"))
}

func kafkaMessageAt(offset int64, key string) kafka.Message {
	msg := createKafkaMessage(&models.Message{Key: key, Value: []byte(key)})
	msg.Offset = offset
	return msg
}

// Helper function to create mock Kafka message
func createKafkaMessage(msg *models.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Topic:     "test-topic",
		Partition: 0,
		Offset:    1,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Time:      msg.Timestamp,
	}
}
