package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	HeaderEventType       = "event-type"
	HeaderEventID         = "event-id"
	HeaderTransactionalID = "transactional-id"
	HeaderTransactionSeq  = "transaction-seq"

	HeaderDLQTopic     = "dlq-original-topic"
	HeaderDLQPartition = "dlq-original-partition"
	HeaderDLQOffset    = "dlq-original-offset"
	HeaderDLQError     = "dlq-error"
)

// eventNamespace seeds deterministic event ids so a re-published event keeps
// its id and can be de-duplicated downstream.
var eventNamespace = uuid.MustParse("6f1c1f9e-8b0e-4f5a-9d7e-2c7c4b1e0a11")

// Envelope is the wire form of a domain event.
type Envelope struct {
	EventID     string           `json:"event_id"`
	EventType   domain.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	Version     int              `json:"version"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     json.RawMessage  `json:"payload"`
}

var decoders = map[domain.EventType]func([]byte) (domain.Event, error){
	domain.EventOrderCreated:            decodeAs[domain.OrderCreatedEvent],
	domain.EventOrderItemAdded:          decodeAs[domain.OrderItemAddedEvent],
	domain.EventOrderShipped:            decodeAs[domain.OrderShippedEvent],
	domain.EventOrderDelivered:          decodeAs[domain.OrderDeliveredEvent],
	domain.EventOrderCancelled:          decodeAs[domain.OrderCancelledEvent],
	domain.EventOrderCompleted:          decodeAs[domain.OrderCompletedEvent],
	domain.EventShippingCostCalculated:  decodeAs[domain.ShippingCostCalculatedEvent],
	domain.EventParcelCreated:           decodeAs[domain.ParcelCreatedEvent],
	domain.EventRepaymentPreferencesSet: decodeAs[domain.RepaymentPreferencesSetEvent],
}

func decodeAs[E domain.Event](data []byte) (domain.Event, error) {
	var evt E
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func EventID(evt domain.Event) string {
	key := fmt.Sprintf("%s|%s|%d|%d", evt.AggregateID(), evt.EventType(), evt.AggregateVersion(), evt.OccurredAt().UnixNano())
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

// Encode wraps evt into a message keyed by its aggregate id, which keeps all
// events of one order on one partition.
func Encode(evt domain.Event) (kafka.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	env := Envelope{
		EventID:     EventID(evt),
		EventType:   evt.EventType(),
		AggregateID: evt.AggregateID(),
		Version:     evt.AggregateVersion(),
		OccurredAt:  evt.OccurredAt(),
		Payload:     payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderEventID, Value: []byte(env.EventID)},
		},
	}, nil
}

func Decode(value []byte) (Envelope, domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	decode, ok := decoders[env.EventType]
	if !ok {
		return env, nil, fmt.Errorf("unknown event type %q", env.EventType)
	}
	evt, err := decode(env.Payload)
	if err != nil {
		return env, nil, fmt.Errorf("decode %s: %w", env.EventType, err)
	}
	return env, evt, nil
}

func DeadLetterTopic(topic string) string {
	return topic + "-dlq"
}

// deadLetter copies the failed message and records where it came from.
func deadLetter(msg kafka.Message, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderDLQPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderDLQOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}
