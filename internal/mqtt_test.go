package swingsense

import (
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Spin up an in-process MQTT broker
func startBroker(t *testing.T) int {
	port := freePort(t)
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Type:    "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })
	return port
}

type published struct {
	topic   string
	payload string
}

func subscribe(t *testing.T, port int, filter string) chan published {
	opts := mqtt.NewClientOptions().AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port)).SetClientID("subscriber")
	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	messages := make(chan published, 8)
	token = client.Subscribe(filter, 0, func(_ mqtt.Client, m mqtt.Message) {
		messages <- published{topic: m.Topic(), payload: string(m.Payload())}
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return messages
}

func TestMqttSinkPublishesRecordsAndApogees(t *testing.T) {
	port := startBroker(t)
	messages := subscribe(t, port, "test/swing/#")

	sink, err := NewMqttSink(MqttConfig{Host: "127.0.0.1", Port: port, Topic: "test/swing"})
	require.NoError(t, err)
	defer sink.Close()

	sink.Send(Output{Value: 0.05, AbsValue: 0.05, Side: SideBack})
	sink.Send(Output{Value: 0.2, AbsValue: 0.2, Side: SideBack, Apogee: SideBack})

	var got []published
	for len(got) < 3 {
		select {
		case m := <-messages:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatalf("received only %d messages", len(got))
		}
	}

	byTopic := map[string][]string{}
	for _, m := range got {
		byTopic[m.topic] = append(byTopic[m.topic], m.payload)
	}
	require.Len(t, byTopic["test/swing"], 2)
	require.Contains(t, byTopic["test/swing"][0], `"apogee":null`)
	require.Contains(t, byTopic["test/swing"][1], `"apogee":"back"`)
	require.Equal(t, []string{`{"side":"back","value":0.2}`}, byTopic["test/swing/apogee"])
}

func TestMqttSinkConnectFails(t *testing.T) {
	_, err := NewMqttSink(MqttConfig{Host: "127.0.0.1", Port: freePort(t), Topic: "x"})
	require.Error(t, err)
}
