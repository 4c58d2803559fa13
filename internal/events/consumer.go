package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reader is satisfied by *kafka.Reader.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Notification is a record of the notifications topic addressed to one
// user.
type Notification struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

type Consumer struct {
	reader Reader
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, log: log}
}

// Run reads notifications until ctx is cancelled. Malformed records are
// skipped.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, n Notification)) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Warn("kafka read error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		var n Notification
		if err := json.Unmarshal(m.Value, &n); err != nil || n.UserID == "" {
			c.log.Warn("skipping malformed notification", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		handle(ctx, n)
	}
}

func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
