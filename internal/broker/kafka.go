package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
)

const (
	headerRoutingKey = "routing-key"
	headerEventID    = "event-id"
	headerAttempt    = "attempt"
)

type KafkaConfig struct {
	Brokers []string
	// Topic plays the role of the exchange: every routing key shares it.
	Topic string
	// GroupID names the durable queue.
	GroupID  string
	Bindings []string
}

// KafkaBroker maps the exchange onto one topic. The routing key rides in a
// header and bindings are applied by the consumer; envelopes that match no
// binding are committed and skipped.
type KafkaBroker struct {
	config    KafkaConfig
	mu        sync.Mutex
	writer    *kafka.Writer
	connected atomic.Bool
	closed    bool
}

func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.Topic == "" {
		config.Topic = "app-events"
	}
	if config.GroupID == "" {
		config.GroupID = "notification_queue"
	}
	return &KafkaBroker{config: config}, nil
}

func (b *KafkaBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if err := b.ping(ctx); err != nil {
		return err
	}

	if b.writer == nil {
		b.writer = &kafka.Writer{
			Addr:                   kafka.TCP(b.config.Brokers...),
			Topic:                  b.config.Topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	b.connected.Store(true)
	return nil
}

// ping dials the brokers in order until one answers a metadata request.
func (b *KafkaBroker) ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.config.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("dial kafka: %w", lastErr)
}

func (b *KafkaBroker) Publish(ctx context.Context, env events.Envelope) error {
	return b.write(ctx, env, 1)
}

func (b *KafkaBroker) write(ctx context.Context, env events.Envelope, attempt int) error {
	b.mu.Lock()
	w := b.writer
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if w == nil || !b.connected.Load() {
		return ErrNotConnected
	}

	msg := kafka.Message{
		Key:   []byte(env.RoutingKey),
		Value: env.Body,
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(env.RoutingKey)},
			{Key: headerEventID, Value: []byte(env.ID)},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(attempt))},
		},
		Time: env.PublishedAt,
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Consume reads the topic as consumer group GroupID. Ack commits the offset.
// Nack with requeue writes the envelope back to the tail of the topic with
// its attempt counter raised, then commits the original.
func (b *KafkaBroker) Consume(ctx context.Context, h Handler) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    b.config.Topic,
		GroupID:  b.config.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.connected.Store(false)
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		env, attempt := envelopeFromMessage(msg)
		if !events.MatchAny(b.config.Bindings, env.RoutingKey) {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return b.commitFailed(ctx, err)
			}
			continue
		}

		var settleErr error
		d := NewDelivery(env.ID, env.RoutingKey, env.Body, attempt, func(ack, requeue bool) error {
			if !ack && requeue {
				if err := b.write(ctx, env, attempt+1); err != nil {
					// Leave the offset uncommitted; the group redelivers after restart.
					settleErr = err
					return err
				}
			}
			if err := reader.CommitMessages(ctx, msg); err != nil {
				settleErr = err
				return err
			}
			return nil
		})
		h(ctx, d)

		if !d.Settled() {
			logging.Warn().Str("routing_key", env.RoutingKey).Str("event_id", env.ID).Msg("kafka: delivery left unsettled, requeueing")
			_ = d.Nack(true)
		}
		if settleErr != nil {
			return b.commitFailed(ctx, settleErr)
		}
	}
}

func (b *KafkaBroker) commitFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.connected.Store(false)
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

func envelopeFromMessage(msg kafka.Message) (events.Envelope, int) {
	env := events.Envelope{
		RoutingKey:  string(msg.Key),
		Body:        msg.Value,
		PublishedAt: msg.Time,
	}
	attempt := 1
	for _, hdr := range msg.Headers {
		switch hdr.Key {
		case headerRoutingKey:
			env.RoutingKey = string(hdr.Value)
		case headerEventID:
			env.ID = string(hdr.Value)
		case headerAttempt:
			if n, err := strconv.Atoi(string(hdr.Value)); err == nil && n > 0 {
				attempt = n
			}
		}
	}
	if env.ID == "" {
		env.ID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return env, attempt
}

func (b *KafkaBroker) Connected() bool {
	return b.connected.Load()
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.connected.Store(false)
	if b.writer != nil {
		if err := b.writer.Close(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
