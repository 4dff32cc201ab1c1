// Package broker connects the service to the shared topic exchange. One
// durable queue is declared and bound to a fixed set of routing-key
// patterns; deliveries are handed to a single handler one at a time and must
// be settled with Ack or Nack.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

var (
	ErrNotConnected   = errors.New("broker: not connected")
	ErrConnectionLost = errors.New("broker: connection lost")
	ErrClosed         = errors.New("broker: closed")
	ErrAlreadySettled = errors.New("broker: delivery already settled")
	// ErrDuplicate means the transport recognised the message id and did
	// not store the message again.
	ErrDuplicate = errors.New("broker: duplicate message id, not stored")
)

// Broker is implemented by the JetStream, Kafka and in-memory transports.
type Broker interface {
	// Connect opens the connection and declares the exchange, the durable
	// queue and its bindings. Calling it again after a lost connection
	// reconnects and re-binds.
	Connect(ctx context.Context) error

	// Publish hands env to the exchange with persistent delivery.
	Publish(ctx context.Context, env events.Envelope) error

	// Consume delivers queued envelopes to h sequentially: h returns before
	// the next delivery starts. It blocks until ctx is done (returning
	// ctx.Err()) or the connection drops (returning ErrConnectionLost).
	Consume(ctx context.Context, h Handler) error

	Connected() bool
	Close() error
}

type Handler func(ctx context.Context, d *Delivery)

// SettleFunc is called once per delivery. ack=false with requeue=true asks
// the broker to redeliver; requeue=false discards.
type SettleFunc func(ack, requeue bool) error

type Delivery struct {
	ID         string
	RoutingKey string
	Body       []byte
	// Attempt is 1 on first delivery and grows with every redelivery.
	Attempt int

	settle  SettleFunc
	settled bool
}

func NewDelivery(id, routingKey string, body []byte, attempt int, settle SettleFunc) *Delivery {
	if attempt < 1 {
		attempt = 1
	}
	return &Delivery{ID: id, RoutingKey: routingKey, Body: body, Attempt: attempt, settle: settle}
}

func (d *Delivery) Ack() error {
	return d.finish(true, false)
}

func (d *Delivery) Nack(requeue bool) error {
	return d.finish(false, requeue)
}

func (d *Delivery) Settled() bool {
	return d.settled
}

func (d *Delivery) finish(ack, requeue bool) error {
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	if d.settle == nil {
		return nil
	}
	return d.settle(ack, requeue)
}

// ConnectWithRetry calls Connect up to attempts times, sleeping delay between
// tries. Exhausting the attempts is a startup failure for the caller.
func ConnectWithRetry(ctx context.Context, b Broker, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := b.Connect(ctx)
		if err == nil {
			metrics.BrokerConnectAttempts.WithLabelValues("ok").Inc()
			logging.Info().Int("attempt", attempt).Msg("broker: connected")
			return nil
		}
		lastErr = err
		metrics.BrokerConnectAttempts.WithLabelValues("failed").Inc()
		logging.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("broker: connect failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", attempts, lastErr)
}
