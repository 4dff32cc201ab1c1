package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
)

// Integration tests with a real Kafka cluster are excluded from unit tests.

func TestKafkaBroker_ImplementsInterface(t *testing.T) {
	var _ Broker = (*KafkaBroker)(nil)
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaBroker(KafkaConfig{}); err == nil {
		t.Error("expected error for empty brokers list")
	}
}

func TestNewKafkaBroker_Defaults(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if b.config.Topic != "app-events" {
		t.Errorf("expected default topic, got %s", b.config.Topic)
	}
	if b.config.GroupID != "notification_queue" {
		t.Errorf("expected default group, got %s", b.config.GroupID)
	}
}

func TestKafkaBroker_PublishBeforeConnect(t *testing.T) {
	b, _ := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}})
	defer b.Close()

	env, _ := events.NewEnvelope(events.KeyPostLiked, events.PostLiked{LikedUserID: "u1"})
	if err := b.Publish(context.Background(), env); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := b.Consume(context.Background(), nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from Consume, got %v", err)
	}
}

func TestEnvelopeFromMessage(t *testing.T) {
	msg := kafka.Message{
		Topic:     "app-events",
		Partition: 2,
		Offset:    41,
		Key:       []byte("ignored.key"),
		Value:     []byte(`{"likedUserId":"u1"}`),
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(events.KeyPostLiked)},
			{Key: headerEventID, Value: []byte("evt-1")},
			{Key: headerAttempt, Value: []byte("3")},
		},
	}
	env, attempt := envelopeFromMessage(msg)
	if env.RoutingKey != events.KeyPostLiked || env.ID != "evt-1" || attempt != 3 {
		t.Errorf("unexpected envelope: key=%s id=%s attempt=%d", env.RoutingKey, env.ID, attempt)
	}

	bare, attempt := envelopeFromMessage(kafka.Message{Topic: "app-events", Partition: 1, Offset: 7, Key: []byte(events.KeyChatCreated)})
	if bare.RoutingKey != events.KeyChatCreated {
		t.Errorf("expected key fallback, got %s", bare.RoutingKey)
	}
	if bare.ID != "app-events-1-7" {
		t.Errorf("expected offset-derived id, got %s", bare.ID)
	}
	if attempt != 1 {
		t.Errorf("expected first attempt, got %d", attempt)
	}
}
