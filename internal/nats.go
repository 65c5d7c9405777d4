package swingsense

import (
	"encoding/json"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/nats-io/nats.go"
)

// NatsSink mirrors output records to a NATS subject.
type NatsSink struct {
	conn    *nats.Conn
	subject string
	log     log.Logger
}

// NewNatsSink connects to the NATS server at url.
func NewNatsSink(url, subject string) (*NatsSink, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("swingsense"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NatsSink{conn: conn, subject: subject, log: log.New("module", "nats", "subject", subject)}, nil
}

// Send publishes o. The client buffers, so this does not wait on the network.
func (n *NatsSink) Send(o Output) {
	data, err := json.Marshal(o)
	if err != nil {
		n.log.Error("Failed to encode record", "error", err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.log.Warn("Failed to publish", "error", err)
	}
}

// Close flushes pending records and closes the connection.
func (n *NatsSink) Close() error {
	return n.conn.Drain()
}
