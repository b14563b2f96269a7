package dlq

import (
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/tidehook/tidehook/internal/hook"
)

// EnvelopeType marks dead letter messages on the wire.
const EnvelopeType = "webhook.dlq"

// Envelope is the versioned message mirrored onto the DLQ topic.
type Envelope struct {
	Type    string               `json:"type"`    // "webhook.dlq"
	Version string               `json:"version"` // schema version
	At      string               `json:"at"`      // RFC3339 emit time
	Entry   hook.DeadLetterEntry `json:"entry"`   // full snapshot
}

// NewEnvelope wraps an entry for publication.
func NewEnvelope(entry hook.DeadLetterEntry) Envelope {
	return Envelope{
		Type:    EnvelopeType,
		Version: "v1",
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Entry:   entry,
	}
}

// Publisher mirrors dead letter entries onto an NSQ topic so external
// consumers (alerting, archival) can react without polling the store.
type Publisher struct {
	producer *nsq.Producer
	topic    string
}

// NewPublisher connects a producer to nsqd at addr.
func NewPublisher(addr, topic string) (*Publisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

// Publish emits one entry.
func (p *Publisher) Publish(entry *hook.DeadLetterEntry) error {
	b, err := json.Marshal(NewEnvelope(*entry))
	if err != nil {
		return err
	}
	return p.producer.Publish(p.topic, b)
}

// Stop tears down the producer.
func (p *Publisher) Stop() {
	p.producer.Stop()
}
