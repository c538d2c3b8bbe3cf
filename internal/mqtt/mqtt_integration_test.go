//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package mqtt_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/mqtt"
	"github.com/alarmpipe/alarmpipe/internal/testutil/containers"
)

var mqttBroker *containers.MosquittoContainer

func TestMain(m *testing.M) {
	ctx := context.Background() //nolint:gocritic // TestMain has no *testing.T for t.Context()

	var err error
	mqttBroker, err = containers.NewMosquittoContainer(ctx, nil)
	if err != nil {
		panic("failed to create MQTT broker: " + err.Error())
	}

	code := m.Run()

	_ = mqttBroker.Terminate(context.Background()) //nolint:gocritic // TestMain has no *testing.T for t.Context()
	os.Exit(code)
}

func newClient(t *testing.T, mutate ...func(*conf.MQTTSettings)) mqtt.Client {
	t.Helper()
	s := conf.Default().MQTT
	s.Broker = mqttBroker.GetBrokerURL(t)
	s.ClientID = fmt.Sprintf("test-%s", t.Name())
	for _, fn := range mutate {
		fn(&s)
	}
	client, err := mqtt.NewClient(s, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	return client
}

func connect(t *testing.T, client mqtt.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.Disconnect)
}

func TestMQTTIntegration_ConnectAndDisconnect(t *testing.T) {
	client := newClient(t)
	connect(t, client)
	assert.True(t, client.IsConnected())

	client.Disconnect()
	assert.False(t, client.IsConnected())
}

func TestMQTTIntegration_ConnectRejectsCooldown(t *testing.T) {
	client := newClient(t, func(s *conf.MQTTSettings) { s.ReconnectDelay = conf.Duration(time.Minute) })
	connect(t, client)
	client.Disconnect()

	err := client.Connect(t.Context())
	require.ErrorIs(t, err, mqtt.ErrConnectCooldown)
}

func TestMQTTIntegration_ConnectWithCancelledContext(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.Error(t, client.Connect(ctx))
}

func TestMQTTIntegration_PublishWhileDisconnected(t *testing.T) {
	client := newClient(t)
	err := client.Publish(t.Context(), "alarms", []byte("{}"))
	require.ErrorIs(t, err, mqtt.ErrNotConnected)
}

func TestMQTTIntegration_PublishReachesRawSubscriber(t *testing.T) {
	const topic = "alarmpipe/it/alarms"

	raw, err := mqttBroker.CreateClient("raw-" + t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Disconnect(250) })

	received := make(chan []byte, 1)
	tok := raw.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) { received <- msg.Payload() })
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	client := newClient(t)
	connect(t, client)

	payload, err := json.Marshal(map[string]any{"id": "a1", "state": "ALARM"})
	require.NoError(t, err)
	require.NoError(t, client.Publish(t.Context(), topic, payload))

	select {
	case got := <-received:
		assert.JSONEq(t, string(payload), string(got))
	case <-time.After(10 * time.Second):
		t.Fatal("message not received")
	}
}

func TestMQTTIntegration_SubscribeDeliversPayloads(t *testing.T) {
	const topic = "alarmpipe/it/metrics"

	client := newClient(t)
	connect(t, client)

	var mu sync.Mutex
	var got []string
	require.NoError(t, client.Subscribe(t.Context(), topic, func(_ string, payload []byte) {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
	}))

	publisher := newClient(t, func(s *conf.MQTTSettings) { s.ClientID = "publisher-" + t.Name() })
	connect(t, publisher)
	for i := range 3 {
		require.NoError(t, publisher.Publish(t.Context(), topic, fmt.Appendf(nil, `{"name":"cpu","value":%d}`, i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 10*time.Second, 50*time.Millisecond)
}
