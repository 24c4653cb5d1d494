package kafka

import (
	"context"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// MockProducer is a mock implementation of ProducerClient for testing
type MockProducer struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	CloseFunc         func() error
	FailCount         int
	failureCounter    int
}

type PublishedMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func NewMockProducer() *MockProducer {
	return &MockProducer{
		PublishedMessages: make([]PublishedMessage, 0),
	}
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, key, value, headers); err != nil {
			return err
		}
	}

	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated publish failure %d", m.failureCounter)
		}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	})

	return nil
}

func (m *MockProducer) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockProducer) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

// MessagesFor returns the messages published to topic.
func (m *MockProducer) MessagesFor(topic string) []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PublishedMessage
	for _, msg := range m.PublishedMessages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockProducer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedMessages = make([]PublishedMessage, 0)
	m.failureCounter = 0
}

// MockDedupeStore is a mock implementation of DedupeStore for testing
type MockDedupeStore struct {
	mu          sync.RWMutex
	ExistsFunc  func(messageID string) bool
	AddFunc     func(messageID string) error
	existingIDs map[string]bool
}

func NewMockDedupeStore() *MockDedupeStore {
	return &MockDedupeStore{
		existingIDs: make(map[string]bool),
	}
}

func (m *MockDedupeStore) Exists(messageID string) bool {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(messageID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existingIDs[messageID]
}

func (m *MockDedupeStore) Add(messageID string) error {
	if m.AddFunc != nil {
		return m.AddFunc(messageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs[messageID] = true
	return nil
}

func (m *MockDedupeStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs = make(map[string]bool)
}

// MockReader is an in-memory MessageReader. Fetch returns queued messages
// in order and blocks on ctx once the queue is empty.
type MockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	Committed []kafka.Message
	CommitErr error
	Closed    bool
}

func NewMockReader(msgs ...kafka.Message) *MockReader {
	return &MockReader{messages: msgs}
}

func (r *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *MockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.Committed = append(r.Committed, msgs...)
	return nil
}

func (r *MockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

func (r *MockReader) GetCommitted() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]kafka.Message, len(r.Committed))
	copy(out, r.Committed)
	return out
}
