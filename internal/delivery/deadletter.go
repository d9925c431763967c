package delivery

import (
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"
)

const DLQType = "delivery.dlq"

// DeadLetter is the envelope published when a delivery is abandoned after
// exhausting its retry budget. Consumers get the full payload snapshot so
// they can replay without reading our database.
type DeadLetter struct {
	Type           string          `json:"type"`    // "delivery.dlq"
	Version        string          `json:"version"` // schema version
	At             string          `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason         string          `json:"reason"`  // human/debug text
	DeliveryID     string          `json:"delivery_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	HTTPStatus     int             `json:"http_status,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// NewDeadLetter snapshots an abandoned delivery into its DLQ envelope.
func NewDeadLetter(d DeliverySnapshot, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:           DLQType,
		Version:        "v1",
		At:             time.Now().Format(time.RFC3339Nano),
		Reason:         reason,
		DeliveryID:     d.DeliveryID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Attempt:        d.Attempt,
		HTTPStatus:     httpStatus,
		LastError:      lastErr,
	}
}

// DeliverySnapshot is the minimal delivery state a DeadLetter carries.
type DeliverySnapshot struct {
	DeliveryID     string
	SubscriptionID string
	EventType      string
	Payload        json.RawMessage
	Attempt        int
}

// DeadLetterPublisher pushes abandoned deliveries onto an external topic.
type DeadLetterPublisher interface {
	Publish(dl DeadLetter) error
}

// NSQDeadLetterPublisher publishes DeadLetter envelopes to an nsqd topic.
type NSQDeadLetterPublisher struct {
	producer *nsq.Producer
	topic    string
}

func NewNSQDeadLetterPublisher(nsqdAddr, topic string) (*NSQDeadLetterPublisher, error) {
	producer, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &NSQDeadLetterPublisher{producer: producer, topic: topic}, nil
}

func (p *NSQDeadLetterPublisher) Publish(dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return p.producer.Publish(p.topic, b)
}

func (p *NSQDeadLetterPublisher) Stop() {
	p.producer.Stop()
}
