package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
)

const (
	headerRoutingKeyNATS = "Routing-Key"
	headerEventIDNATS    = "Event-Id"
)

type JetStreamConfig struct {
	URL string
	// Exchange names the stream; subjects are "<exchange>.<routing key>".
	Exchange string
	// Queue names the durable consumer.
	Queue    string
	Bindings []string
	AckWait  time.Duration
	MaxAge   time.Duration
}

// JetStreamBroker backs the exchange with a file-stored stream and the queue
// with a durable pull consumer filtered on the bindings. The client does not
// reconnect on its own; a dropped connection surfaces from Consume so the
// supervisor can reconnect and re-bind.
type JetStreamBroker struct {
	config JetStreamConfig

	mu        sync.Mutex
	nc        *nats.Conn
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	lost      chan struct{}
	gen       uint64 // bumped per Connect; callbacks from older connections are ignored
	connected atomic.Bool
	closed    bool
}

func NewJetStreamBroker(config JetStreamConfig) (*JetStreamBroker, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if config.Exchange == "" || config.Queue == "" {
		return nil, fmt.Errorf("exchange and queue names are required")
	}
	if config.AckWait <= 0 {
		config.AckWait = 30 * time.Second
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 7 * 24 * time.Hour
	}
	return &JetStreamBroker{config: config, lost: make(chan struct{})}, nil
}

func (b *JetStreamBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.connected.Load() {
		b.connected.Store(false)
		close(b.lost)
	}
	if b.nc != nil {
		b.nc.Close()
		b.nc = nil
	}

	filters, err := filterSubjects(b.config.Exchange, b.config.Bindings)
	if err != nil {
		return err
	}

	b.gen++
	gen := b.gen

	nc, err := nats.Connect(b.config.URL,
		nats.Name("notifier-"+b.config.Queue),
		nats.NoReconnect(),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("jetstream: disconnected")
			b.markLost(gen)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.markLost(gen)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create jetstream context: %w", err)
	}
	if err := b.ensureStream(ctx, js); err != nil {
		nc.Close()
		return err
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, b.config.Exchange, jetstream.ConsumerConfig{
		Durable:        b.config.Queue,
		FilterSubjects: filters,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        b.config.AckWait,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		MaxAckPending:  1,
		MaxDeliver:     -1,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("bind queue %s: %w", b.config.Queue, err)
	}

	b.nc, b.js, b.consumer = nc, js, cons
	b.lost = make(chan struct{})
	b.connected.Store(true)
	return nil
}

func (b *JetStreamBroker) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:       b.config.Exchange,
		Subjects:   []string{b.config.Exchange + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		MaxAge:     b.config.MaxAge,
		Duplicates: 2 * time.Minute,
	}

	_, err := js.Stream(ctx, cfg.Name)
	if err == nil {
		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.Name, err)
		}
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		return nil
	}
	return fmt.Errorf("check stream %s: %w", cfg.Name, err)
}

// filterSubjects turns topic bindings into NATS subject filters. "#" maps to
// ">" and is only accepted as the last word.
func filterSubjects(exchange string, bindings []string) ([]string, error) {
	out := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		words := strings.Split(binding, ".")
		for i, w := range words {
			if w == "#" {
				if i != len(words)-1 {
					return nil, fmt.Errorf("binding %q: '#' is only supported as the last word", binding)
				}
				words[i] = ">"
			}
		}
		out = append(out, exchange+"."+strings.Join(words, "."))
	}
	return out, nil
}

func (b *JetStreamBroker) markLost(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.gen && b.connected.Load() {
		b.connected.Store(false)
		close(b.lost)
	}
}

func (b *JetStreamBroker) Publish(ctx context.Context, env events.Envelope) error {
	b.mu.Lock()
	js := b.js
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if js == nil || !b.connected.Load() {
		return ErrNotConnected
	}

	msg := nats.NewMsg(b.config.Exchange + "." + env.RoutingKey)
	msg.Data = env.Body
	msg.Header.Set(nats.MsgIdHdr, env.DedupID())
	msg.Header.Set(headerEventIDNATS, env.ID)
	msg.Header.Set(headerRoutingKeyNATS, env.RoutingKey)

	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.RoutingKey, err)
	}
	if ack.Duplicate {
		return fmt.Errorf("publish %s id %s: %w", env.RoutingKey, env.DedupID(), ErrDuplicate)
	}
	return nil
}

// Consume pulls with MaxAckPending 1, so the server hands out the next
// message only after the current one is settled. Nack with requeue is a NAK;
// without requeue the message is terminated.
func (b *JetStreamBroker) Consume(ctx context.Context, h Handler) error {
	b.mu.Lock()
	cons := b.consumer
	lost := b.lost
	b.mu.Unlock()

	if cons == nil || !b.connected.Load() {
		return ErrNotConnected
	}

	iter, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("open message iterator: %w", err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-lost:
		case <-stop:
		}
		iter.Stop()
	}()

	prefix := b.config.Exchange + "."
	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !b.connected.Load() || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ErrConnectionLost
			}
			return fmt.Errorf("jetstream next: %w", err)
		}

		id := msg.Headers().Get(headerEventIDNATS)
		if id == "" {
			id = msg.Headers().Get(nats.MsgIdHdr)
		}
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
			if id == "" {
				id = fmt.Sprintf("%s-%d", meta.Stream, meta.Sequence.Stream)
			}
		}
		key := msg.Headers().Get(headerRoutingKeyNATS)
		if key == "" {
			key = strings.TrimPrefix(msg.Subject(), prefix)
		}

		d := NewDelivery(id, key, msg.Data(), attempt, func(ack, requeue bool) error {
			switch {
			case ack:
				return msg.Ack()
			case requeue:
				return msg.Nak()
			default:
				return msg.Term()
			}
		})
		h(ctx, d)
		if !d.Settled() {
			_ = d.Nack(true)
		}
	}
}

func (b *JetStreamBroker) Connected() bool {
	return b.connected.Load()
}

func (b *JetStreamBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	nc := b.nc
	b.mu.Unlock()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
			return fmt.Errorf("drain nats: %w", err)
		}
	}
	return nil
}
