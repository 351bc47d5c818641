package kafka

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-outbox-publisher-test"))
	published := time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)
	producer.now = func() time.Time { return published }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, _ := msg.Value.Encode()
		envelope, err := DecodeEnvelope(value)
		if err != nil {
			return err
		}
		if envelope.EventType != domain.EventOrderStatusChanged || string(envelope.Payload) != `{"to":"Processing"}` {
			return fmt.Errorf("unexpected envelope %+v", envelope)
		}
		if !envelope.PublishedAt.Equal(published) {
			return fmt.Errorf("unexpected published_at %s", envelope.PublishedAt)
		}
		if len(msg.Headers) != 3 {
			return fmt.Errorf("expected 3 headers, got %d", len(msg.Headers))
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"to":"Processing"}`),
		CreatedAt:     published.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")
	if publisher.Topic() != TopicOrderEvents {
		t.Fatalf("expected default topic %s, got %s", TopicOrderEvents, publisher.Topic())
	}

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{}`),
	})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
