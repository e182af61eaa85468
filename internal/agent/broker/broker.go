package broker

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yshr-dev/felica-agent/internal/felica"
)

// SubjectCardRead receives one message per delivered payload.
const SubjectCardRead = "felica.card.read"

// Broker publishes card reads to NATS for any local subscribers
// (displays, home automation). A nil Broker publishes nothing.
type Broker struct {
	conn *nats.Conn
}

func NewBroker(conn *nats.Conn) *Broker {
	return &Broker{conn: conn}
}

func (b *Broker) PublishRead(payload *felica.Payload) error {
	if b == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return b.conn.Publish(SubjectCardRead, data)
}
