package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
)

// Publisher is the call domain code uses to announce events. It never
// returns an error: false means the envelope was not handed to the broker,
// and callers must not fail their own operation because of it.
type Publisher struct {
	broker  Broker
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

func NewPublisher(b Broker, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		// A duplicate is the server answering, not the transport failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDuplicate)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("broker: publish breaker state change")
		},
	})
	return &Publisher{broker: b, cb: cb, timeout: timeout}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) bool {
	env, err := events.NewEnvelope(routingKey, payload)
	if err != nil {
		logging.Error().Err(err).Str("routing_key", routingKey).Msg("broker: cannot build envelope")
		metrics.EnvelopesPublished.WithLabelValues(routingKey, "failed").Inc()
		return false
	}
	return p.PublishEnvelope(ctx, env)
}

func (p *Publisher) PublishEnvelope(ctx context.Context, env events.Envelope) bool {
	if p.broker == nil || !p.broker.Connected() {
		logging.Warn().Str("routing_key", env.RoutingKey).Msg("broker: not connected, event not published")
		metrics.EnvelopesPublished.WithLabelValues(env.RoutingKey, "unavailable").Inc()
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.broker.Publish(ctx, env)
	})
	if err != nil {
		result := "failed"
		switch {
		case errors.Is(err, ErrDuplicate):
			result = "duplicate"
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "unavailable"
		}
		logging.Warn().Err(err).Str("routing_key", env.RoutingKey).Str("event_id", env.ID).Msg("broker: publish failed")
		metrics.EnvelopesPublished.WithLabelValues(env.RoutingKey, result).Inc()
		return false
	}

	metrics.EnvelopesPublished.WithLabelValues(env.RoutingKey, "ok").Inc()
	return true
}
