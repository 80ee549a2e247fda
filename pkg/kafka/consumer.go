package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer reads domain events from Kafka and routes them to an EventHandler.
type Consumer struct {
	client  *kgo.Client
	logger  *logrus.Logger
	groupID string
	handler EventHandler
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, groupID, clientID string, logger *logrus.Logger, handler EventHandler) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ClientID(clientID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		logger:  logger,
		groupID: groupID,
		handler: handler,
	}, nil
}

// Subscribe adds topics to the consumer
func (c *Consumer) Subscribe(topics []string) error {
	c.client.AddConsumeTopics(topics...)
	return nil
}

// Close closes the underlying client
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Start starts polling for messages
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			fetches := c.client.PollFetches(ctx)
			if errs := fetches.Errors(); len(errs) > 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Errorf("errors while polling: %v", errs)
				continue
			}

			var commit []*kgo.Record
			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()
				if err := c.processRecord(record); err != nil {
					c.logger.WithError(err).WithFields(logrus.Fields{
						"topic":     record.Topic,
						"partition": record.Partition,
						"offset":    record.Offset,
					}).Error("Failed to handle record")
					// Live fan-out has no replay value for malformed or
					// failed records; commit past them rather than wedging
					// the partition.
				}
				commit = append(commit, record)
			}

			if len(commit) > 0 {
				if err := c.client.CommitRecords(ctx, commit...); err != nil {
					c.logger.WithError(err).Error("failed to commit records")
				}
			}
		}
	}
}

func (c *Consumer) processRecord(record *kgo.Record) error {
	var event Event
	if err := json.Unmarshal(record.Value, &event); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}

	// Prefer header-provided tenant over payload
	for _, h := range record.Headers {
		if h.Key == "tenant_id" && len(h.Value) > 0 {
			event.TenantID = string(h.Value)
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = record.Timestamp
	}

	return c.handler.HandleEvent(event)
}

// HealthCheck pings the broker
func (c *Consumer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient exposes the underlying client for health checks
func (c *Consumer) GetClient() *kgo.Client {
	return c.client
}
