package mqttpub

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyflow/internal/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published []Message
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, Message{Topic: topic, QoS: qos, Retain: retained, Payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://mqtt.local:1883", brokerURL("mqtt.local"))
	assert.Equal(t, "tcp://mqtt.local:8883", brokerURL("mqtt.local:8883"))
	assert.Equal(t, "ssl://mqtt.local:8883", brokerURL("ssl://mqtt.local:8883"))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Solar To Home", title("solar_to_home"))
}

func TestExporter_Discovery(t *testing.T) {
	e := NewExporter("homeassistant/", "energyflow", nil, nil)
	msgs, err := e.Discovery()
	require.NoError(t, err)
	require.Len(t, msgs, 14)

	first := msgs[0]
	assert.Equal(t, "homeassistant/sensor/energyflow_solar_to_home/config", first.Topic)
	assert.True(t, first.Retain)
	assert.Equal(t, byte(2), first.QoS)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(first.Payload, &cfg))
	assert.Equal(t, "energyflow/state", cfg["state_topic"])
	assert.Equal(t, "{{ value_json.solar_to_home }}", cfg["value_template"])
	assert.Equal(t, "energy", cfg["device_class"])
	assert.Equal(t, "kWh", cfg["unit_of_measurement"])
	assert.Equal(t, "energyflow_solar_to_home", cfg["unique_id"])

	last := msgs[len(msgs)-1]
	assert.Equal(t, "homeassistant/sensor/energyflow_low_carbon_percentage/config", last.Topic)
	require.NoError(t, json.Unmarshal(last.Payload, &cfg))
	assert.Equal(t, "%", cfg["unit_of_measurement"])
}

func TestStatePayload(t *testing.T) {
	payload, err := StatePayload(model.Snapshot{
		Flows:  model.Flows{SolarToHome: 1500, GridToBattery: 333.3333},
		Totals: model.RoleTotals{SolarProduction: 3000, HomeConsumption: 2000},
		Carbon: model.CarbonSplit{Available: true, LowCarbonPercentage: 61.26},
	})
	require.NoError(t, err)

	var state map[string]float64
	require.NoError(t, json.Unmarshal(payload, &state))
	assert.InDelta(t, 1.5, state["solar_to_home"], 1e-9)
	assert.InDelta(t, 0.333, state["grid_to_battery"], 1e-9)
	assert.InDelta(t, 3.0, state["solar_production"], 1e-9)
	assert.InDelta(t, 2.0, state["home_consumption"], 1e-9)
	assert.InDelta(t, 61.3, state["low_carbon_percentage"], 1e-9)
	assert.Len(t, state, 14)
}

func TestStatePayloadOmitsUndefinedPercentage(t *testing.T) {
	payload, err := StatePayload(model.Snapshot{
		Carbon: model.CarbonSplit{Available: true, LowCarbonPercentage: math.NaN()},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "low_carbon_percentage")
}

func TestExporter_OnSnapshotDoesNotBlock(t *testing.T) {
	out := make(chan Message, 1)
	e := NewExporter("homeassistant", "energyflow", out, nil)

	e.OnSnapshot(model.Snapshot{})
	e.OnSnapshot(model.Snapshot{})

	msg := <-out
	assert.Equal(t, "energyflow/state", msg.Topic)
	assert.False(t, msg.Retain)
	assert.Empty(t, out)
}

func TestSender_QueuesUntilConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outgoing := make(chan Message)
	clients := make(chan Publisher)
	done := make(chan struct{})
	go func() {
		NewSender(nil).Run(ctx, outgoing, clients)
		close(done)
	}()

	outgoing <- Message{Topic: "a/config", Payload: []byte("1")}
	outgoing <- Message{Topic: "a/state", Payload: []byte("old")}
	outgoing <- Message{Topic: "a/state", Payload: []byte("new")}

	client := &fakeClient{connected: true}
	clients <- client

	outgoing <- Message{Topic: "b/state", Payload: []byte("2")}

	assert.Eventually(t, func() bool { return len(client.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	msgs := client.messages()
	assert.Equal(t, "a/config", msgs[0].Topic)
	assert.Equal(t, []byte("new"), msgs[1].Payload)
	assert.Equal(t, "b/state", msgs[2].Topic)

	cancel()
	<-done
}
