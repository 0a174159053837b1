package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
	ErrPublisherBusy   = errors.New("publisher buffer full")
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher queues sale events and writes them from a single goroutine,
// so checkout never waits on the broker. Messages are keyed by terminal id to
// keep each terminal's sales in order.
type KafkaPublisher struct {
	w        MessageWriter
	producer string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	inbox  chan kafka.Message
	done   chan struct{}
}

func NewKafkaPublisher(w MessageWriter, producer string, buf int, logger *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		w:        w,
		producer: producer,
		logger:   logger.Named("events"),
		inbox:    make(chan kafka.Message, buf),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *KafkaPublisher) PublishSaleCompleted(ctx context.Context, terminalID string, inv domain.Invoice) error {
	payload, err := json.Marshal(saleCompletedPayload(terminalID, inv))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	value, err := json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventSaleCompleted,
		EventVersion:  saleCompletedVersion,
		OccurredAt:    inv.Timestamp.UTC(),
		Producer:      p.producer,
		CorrelationID: inv.ID,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(terminalID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventSaleCompleted)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrPublisherBusy
	}
}

// Close flushes queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *KafkaPublisher) loop() {
	defer close(p.done)

	for m := range p.inbox {
		if err := p.w.WriteMessages(context.Background(), m); err != nil {
			p.logger.Error("failed to write sale event", zap.ByteString("key", m.Key), zap.Error(err))
			continue
		}
		p.logger.Debug("sale event written", zap.ByteString("key", m.Key))
	}

	if err := p.w.Close(); err != nil {
		p.logger.Warn("failed to close kafka writer", zap.Error(err))
	}
}
