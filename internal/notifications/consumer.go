package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/broker"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

// ConsumerConfig controls connect retry and the poison-message cap.
type ConsumerConfig struct {
	ConnectAttempts int
	ConnectDelay    time.Duration
	// MaxDeliveries dead-letters an envelope whose handling fails on this
	// attempt or later. Zero requeues forever.
	MaxDeliveries int
}

// Consumer drains the notification queue into the Dispatcher and settles
// every delivery. It runs as a supervised service: a dropped connection
// ends Serve and the restart reconnects and re-binds.
type Consumer struct {
	broker      broker.Broker
	dispatcher  *Dispatcher
	deadLetters DeadLetterStore
	cfg         ConsumerConfig
}

func NewConsumer(b broker.Broker, dispatcher *Dispatcher, deadLetters DeadLetterStore, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		broker:      b,
		dispatcher:  dispatcher,
		deadLetters: deadLetters,
		cfg:         cfg,
	}
}

// Serve connects when needed and consumes until ctx is done or the
// connection drops.
func (c *Consumer) Serve(ctx context.Context) error {
	if !c.broker.Connected() {
		if err := broker.ConnectWithRetry(ctx, c.broker, c.cfg.ConnectAttempts, c.cfg.ConnectDelay); err != nil {
			return err
		}
	}
	metrics.BrokerConnected.Set(1)
	defer metrics.BrokerConnected.Set(0)

	logging.Info().Msg("notifications: consumer started")
	err := c.broker.Consume(ctx, c.Handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, broker.ErrConnectionLost) {
		logging.Warn().Err(err).Msg("notifications: broker connection lost, restarting consumer")
	}
	return err
}

func (c *Consumer) String() string {
	return "notification-consumer"
}

// Handle dispatches one delivery and settles it: ack on success or on an
// unrecognized body, nack with requeue on failure, dead-letter once the
// delivery cap is reached.
func (c *Consumer) Handle(ctx context.Context, d *broker.Delivery) {
	start := time.Now()
	res, err := c.dispatcher.Dispatch(ctx, d.ID, d.RoutingKey, d.Body)
	defer metrics.ObserveDispatch(res.Decision.Type, start)

	if err == nil {
		outcome := metrics.OutcomeAcked
		if !res.Decision.Recognized() {
			outcome = metrics.OutcomeDropped
			logging.Warn().
				Str("routing_key", d.RoutingKey).
				Str("event_id", d.ID).
				Msg("notifications: unrecognized event shape, dropping")
		} else if res.Duplicate {
			logging.Info().
				Str("routing_key", d.RoutingKey).
				Str("event_id", d.ID).
				Int("attempt", d.Attempt).
				Msg("notifications: event already processed")
		}
		c.settle(d, outcome, d.Ack())
		return
	}

	if c.cfg.MaxDeliveries > 0 && d.Attempt >= c.cfg.MaxDeliveries && c.deadLetters != nil {
		dl := &DeadLetter{
			EventID:    d.ID,
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Error:      err.Error(),
			Attempts:   d.Attempt,
		}
		dlErr := c.deadLetters.Add(ctx, dl)
		if dlErr == nil {
			logging.Error().Err(err).
				Str("routing_key", d.RoutingKey).
				Str("event_id", d.ID).
				Int("attempt", d.Attempt).
				Int64("dead_letter_id", dl.ID).
				Msg("notifications: delivery cap reached, dead-lettered")
			c.settle(d, metrics.OutcomeDeadLettered, d.Ack())
			return
		}
		logging.Error().Err(dlErr).
			Str("routing_key", d.RoutingKey).
			Str("event_id", d.ID).
			Msg("notifications: dead-letter write failed")
	}

	logging.Error().Err(err).
		Str("routing_key", d.RoutingKey).
		Str("event_id", d.ID).
		Str("type", res.Decision.Type).
		Int("attempt", d.Attempt).
		Msg("notifications: dispatch failed, requeueing")
	c.settle(d, metrics.OutcomeRequeued, d.Nack(true))
}

func (c *Consumer) settle(d *broker.Delivery, outcome string, err error) {
	metrics.EnvelopesConsumed.WithLabelValues(d.RoutingKey, outcome).Inc()
	if err != nil {
		logging.Warn().Err(err).
			Str("routing_key", d.RoutingKey).
			Str("event_id", d.ID).
			Str("outcome", outcome).
			Msg("notifications: settle failed")
	}
}
