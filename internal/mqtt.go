package swingsense

import (
	"encoding/json"
	"fmt"
	"math/rand"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/inconshreveable/log15"
)

/* MQTT communication */

// MqttConfig selects the broker and base topic for published records.
type MqttConfig struct {
	Host  string
	Port  int
	Topic string
}

type apogeeEvent struct {
	Side  Side    `json:"side"`
	Value float64 `json:"value"`
}

// MqttSink publishes every output record to Topic and every apogee to
// Topic + "/apogee".
type MqttSink struct {
	client  mqtt.Client
	config  MqttConfig
	records chan Output
	done    chan struct{}
	log     log.Logger
}

// NewMqttSink connects to the broker and starts publishing.
func NewMqttSink(config MqttConfig) (*MqttSink, error) {
	broker := fmt.Sprintf("tcp://%s:%d", config.Host, config.Port)
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(fmt.Sprintf("swingsense-%d", rand.Int31()))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}

	m := &MqttSink{
		client:  client,
		config:  config,
		records: make(chan Output, 64),
		done:    make(chan struct{}),
		log:     log.New("module", "mqtt", "broker", broker),
	}
	go m.sendToMqtt()
	return m, nil
}

// Send queues a record. It never blocks the detector; records are dropped
// while the queue is full.
func (m *MqttSink) Send(o Output) {
	select {
	case m.records <- o:
	default:
		m.log.Warn("Publish queue full, dropping record")
	}
}

func (m *MqttSink) sendToMqtt() {
	for {
		select {
		case o := <-m.records:
			data, err := json.Marshal(o)
			if err != nil {
				m.log.Error("Failed to encode record", "error", err)
				continue
			}
			m.publish(m.config.Topic, data)

			if o.Apogee != SideNone {
				data, _ := json.Marshal(apogeeEvent{Side: o.Apogee, Value: o.Value})
				m.log.Debug("Sending apogee", "event", string(data))
				m.publish(m.config.Topic+"/apogee", data)
			}
		case <-m.done:
			return
		}
	}
}

func (m *MqttSink) publish(topic string, data []byte) {
	token := m.client.Publish(topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		m.log.Warn("Failed to publish", "topic", topic, "error", err)
	}
}

// Close stops publishing and disconnects from the broker.
func (m *MqttSink) Close() {
	close(m.done)
	m.client.Disconnect(250)
}
