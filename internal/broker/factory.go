package broker

import (
	"fmt"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/config"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
)

// New builds the transport selected by cfg.Kind with the queue bound to
// bindings. It does not connect.
func New(cfg config.BrokerConfig, bindings []string) (Broker, error) {
	switch cfg.Kind {
	case config.BrokerNATS:
		logging.Info().Str("url", cfg.NATSURL).Str("stream", cfg.Exchange).Str("queue", cfg.Queue).Msg("broker: using JetStream")
		return NewJetStreamBroker(JetStreamConfig{
			URL:      cfg.NATSURL,
			Exchange: cfg.Exchange,
			Queue:    cfg.Queue,
			Bindings: bindings,
		})
	case config.BrokerKafka:
		logging.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Str("group", cfg.Queue).Msg("broker: using Kafka")
		return NewKafkaBroker(KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			GroupID:  cfg.Queue,
			Bindings: bindings,
		})
	case config.BrokerMemory, "":
		logging.Info().Msg("broker: using in-memory broker")
		return NewMemoryBroker(bindings), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}
