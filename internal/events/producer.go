package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/config"
	"github.com/fathima-sithara/conversation-service/internal/domain"
)

const (
	TypeMessageCreated = "message.created"
	TypeMessagesRead   = "messages.read"
)

var ErrQueueFull = errors.New("event queue full")

// Writer is satisfied by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON value written to the events topic.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// Producer queues domain events and writes them to Kafka from a single
// worker behind a circuit breaker, so a slow or failing broker never holds
// up message delivery.
type Producer struct {
	writer Writer
	cb     *gobreaker.CircuitBreaker
	queue  chan kafka.Message
	log    *zap.Logger
	done   chan struct{}

	// started is set once Run owns the queue
	started atomic.Bool
}

func NewProducer(brokers []string, topic string, cbCfg config.BreakerConfig, log *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newProducer(w, cbCfg, 1024, log)
}

func newProducer(w Writer, cbCfg config.BreakerConfig, buffer int, log *zap.Logger) *Producer {
	st := gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Duration(cbCfg.IntervalSec) * time.Second,
		Timeout:     time.Duration(cbCfg.TimeoutSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cbCfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Producer{
		writer: w,
		cb:     gobreaker.NewCircuitBreaker(st),
		queue:  make(chan kafka.Message, buffer),
		log:    log,
		done:   make(chan struct{}),
	}
}

// Run writes queued events until ctx is done, then flushes what is left.
func (p *Producer) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer close(p.done)
	for {
		select {
		case m := <-p.queue:
			p.write(ctx, m)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				select {
				case m := <-p.queue:
					p.write(flush, m)
				default:
					cancel()
					return
				}
			}
		}
	}
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	_, err := p.cb.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return nil, p.writer.WriteMessages(wctx, m)
	})
	if err != nil {
		p.log.Warn("kafka publish failed", zap.String("key", string(m.Key)), zap.Error(err))
	}
}

func (p *Producer) enqueue(key string, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Producer) MessageCreated(_ context.Context, m *domain.Message) error {
	return p.enqueue(m.ConversationID, Event{Type: TypeMessageCreated, OccurredAt: m.CreatedAt, Payload: m})
}

func (p *Producer) MessagesRead(_ context.Context, r domain.ReadReceipt) error {
	return p.enqueue(r.ConversationID, Event{Type: TypeMessagesRead, OccurredAt: r.ReadAt, Payload: r})
}

// Close waits for Run to finish flushing (when it was started) and closes
// the writer.
func (p *Producer) Close(ctx context.Context) error {
	if p.started.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
		}
	}
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
