// Package watermill adapts Watermill publishers and subscribers to the
// messaging interfaces. Kafka goes through watermill-kafka (Sarama); the
// in-process backend is the gochannel Pub/Sub.
package watermill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/messaging"
)

// Metadata keys set on every published message.
const (
	MetadataKey       = "key"
	MetadataEventType = "event_type"
)

type subscriberFactory func(groupID string) (sub message.Subscriber, shared bool, err error)

// Broker publishes JSON events as Watermill messages.
type Broker struct {
	publisher     message.Publisher
	newSubscriber subscriberFactory
	logger        *slog.Logger
}

var (
	_ messaging.Publisher  = (*Broker)(nil)
	_ messaging.Subscriber = (*Broker)(nil)
)

// NewGoChannelBroker creates an in-process broker. Messages are kept so a
// subscriber that joins late still receives earlier events.
func NewGoChannelBroker(logger *slog.Logger) *Broker {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, watermill.NewSlogLogger(logger))

	return &Broker{
		publisher: pubSub,
		newSubscriber: func(string) (message.Subscriber, bool, error) {
			return pubSub, true, nil
		},
		logger: logger,
	}
}

// NewKafkaBroker creates a broker backed by watermill-kafka. Messages are
// partitioned by their key.
func NewKafkaBroker(brokers []string, logger *slog.Logger) (*Broker, error) {
	wlog := watermill.NewSlogLogger(logger)

	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.NewWithPartitioningMarshaler(partitionKey),
		OverwriteSaramaConfig: saramaCfg,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &Broker{
		publisher: pub,
		newSubscriber: func(groupID string) (message.Subscriber, bool, error) {
			subCfg := kafka.DefaultSaramaSubscriberConfig()
			subCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

			sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: subCfg,
				ConsumerGroup:         groupID,
			}, wlog)
			if err != nil {
				return nil, false, err
			}
			return sub, false, nil
		},
		logger: logger,
	}, nil
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(MetadataKey), nil
}

func (b *Broker) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	msg, err := newEventMessage(ctx, key, event)
	if err != nil {
		return err
	}
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// newEventMessage encodes event as JSON. Domain events also carry their type
// in the metadata.
func newEventMessage(ctx context.Context, key string, event any) (*message.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set(MetadataKey, key)
	if e, ok := event.(entity.Event); ok {
		msg.Metadata.Set(MetadataEventType, e.EventType())
	}
	msg.SetContext(ctx)
	return msg, nil
}

// Consume delivers messages to handler until ctx is done. Handler errors are
// logged and the message is acked.
func (b *Broker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	sub, shared, err := b.newSubscriber(groupID)
	if err != nil {
		b.logger.Error("Failed to create subscriber", "topic", topic, "err", err)
		return
	}
	if !shared {
		defer sub.Close()
	}

	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		b.logger.Error("Failed to subscribe", "topic", topic, "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Consumer shutting down", "topic", topic)
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := handler(ctx, msg.Payload); err != nil {
				b.logger.Error("Error handling message", "topic", topic, "uuid", msg.UUID, "err", err)
			}
			msg.Ack()
		}
	}
}

func (b *Broker) Close() error {
	return b.publisher.Close()
}
