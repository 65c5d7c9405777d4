package swingsense

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestNatsSinkPublishesRecords(t *testing.T) {
	srv := natstest.RunRandClientPortServer()
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("swing.output")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink, err := NewNatsSink(srv.ClientURL(), "swing.output")
	require.NoError(t, err)

	locked := 0.2
	sink.Send(Output{
		Value:             0.2,
		AbsValue:          0.2,
		DeltaTime:         math.Inf(1),
		Speed:             math.NaN(),
		Apogee:            SideBack,
		Side:              SideBack,
		SmoothedValue:     0.1,
		LockedApogeeValue: &locked,
	})
	require.NoError(t, sink.Close())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "swing.output", msg.Subject)
	require.JSONEq(t, `{
		"value": 0.2, "absValue": 0.2, "deltaTime": null, "speed": null,
		"apogee": "back", "side": "back", "smoothedValue": 0.1, "smoothedSpeed": 0,
		"lockedApogeeValue": 0.2
	}`, string(msg.Data))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Nil(t, decoded["speed"])
}

func TestNatsSinkConnectFails(t *testing.T) {
	_, err := NewNatsSink(fmt.Sprintf("nats://127.0.0.1:%d", freePort(t)), "swing.output")
	require.Error(t, err)
}
