package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "oms.order.events"
	TopicDeadLetterQueue = "oms.dlq" // Dead Letter Queue для событий, не опубликованных после всех попыток
)

// Kafka headers публикуемых сообщений
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope задаёт формат сообщения о заказе в топике.
// Payload несёт исходный JSON события (OrderCreated, OrderStatusChanged) без перекодирования.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DecodeEnvelope разбирает значение сообщения из топика заказов.
func DecodeEnvelope(value []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode order event envelope: %w", err)
	}
	if envelope.EventType == "" || envelope.AggregateID == "" {
		return Envelope{}, fmt.Errorf("order event envelope is incomplete")
	}
	return envelope, nil
}
