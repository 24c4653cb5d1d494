package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go-retry/internal/observability"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Dialer opens a broker connection. Tests replace it.
type Dialer func(ctx context.Context, network, address string) (*kafka.Conn, error)

// Client checks broker connectivity and the presence of the topics this
// process reads and writes.
type Client struct {
	brokers []string
	topics  []string
	dial    Dialer
	logger  *logrus.Logger
	healthy atomic.Bool
}

func NewClient(brokers []string, topics ...string) *Client {
	return &Client{
		brokers: brokers,
		topics:  topics,
		dial:    kafka.DialContext,
		logger:  observability.GetLogger(),
	}
}

// HealthCheck succeeds when any broker answers and every required topic has
// at least one partition.
func (c *Client) HealthCheck(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return errors.New("no brokers configured")
	}

	var lastErr error
	for _, broker := range c.brokers {
		conn, err := c.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = fmt.Errorf("failed to connect to broker %s: %w", broker, err)
			continue
		}

		err = c.checkTopics(conn)
		conn.Close()
		if err != nil {
			return err
		}
		return nil
	}
	return lastErr
}

func (c *Client) checkTopics(conn *kafka.Conn) error {
	partitions, err := conn.ReadPartitions(c.topics...)
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	found := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, topic := range c.topics {
		if !found[topic] {
			return fmt.Errorf("topic %s not found", topic)
		}
	}
	return nil
}

// Healthy reports the result of the last check made by Watch.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Watch runs HealthCheck every interval until ctx is done and logs state
// changes.
func (c *Client) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.probe(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) probe(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.HealthCheck(checkCtx)
	was := c.healthy.Swap(err == nil)

	switch {
	case err != nil && was:
		c.logger.WithError(err).Warn("Kafka became unhealthy")
	case err != nil:
		c.logger.WithError(err).Debug("Kafka still unhealthy")
	case !was:
		c.logger.WithField("brokers", c.brokers).Info("Kafka is healthy")
	}
}

// Brokers returns the list of brokers
func (c *Client) Brokers() []string {
	return c.brokers
}
