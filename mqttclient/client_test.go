package mqttclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/dispatch"
	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/subscription"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.Connected())
	assert.NotEmpty(t, c.clientID)
	assert.Equal(t, 30*time.Second, c.keepAlive)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("tcp://broker:1883",
		WithClientID("fp-test"),
		WithCredentials("user", "pass"),
		WithKeepAlive(60*time.Second),
		WithConnectTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "fp-test", c.clientID)
	assert.Equal(t, "user", c.username)
	assert.Equal(t, 5*time.Second, c.timeout)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient("tcp://broker:1883", WithClientID(""))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("tcp://broker:1883", WithKeepAlive(100*time.Millisecond))
	require.Error(t, err)

	_, err = NewClient("tcp://broker:1883", WithConnectTimeout(0))
	require.Error(t, err)

	_, err = NewClient("tcp://broker:1883", WithLogger(nil))
	require.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestConnect_InvalidURL(t *testing.T) {
	c, err := NewClient("://not-a-url")
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSubscribe_NotConnected(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	err = c.Subscribe(context.Background(), "sensors/#", subscription.QoSAtLeastOnce)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestUnsubscribe_NotConnected(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	// Removing the filter from the replay set must succeed even without
	// a live session, so shutdown ordering stays flexible.
	c.subs["sensors/#"] = subscription.QoSAtLeastOnce
	require.NoError(t, c.Unsubscribe(context.Background(), "sensors/#"))
	assert.Empty(t, c.subs)
}

func TestHandlePublish_DeliversMessage(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	var got dispatch.Message
	c.SetHandler(func(msg dispatch.Message) { got = msg })

	ack, err := c.handlePublish(paho.PublishReceived{
		Packet: &paho.Publish{
			Topic:   "sensors/kitchen/temperature",
			Payload: []byte(`{"value": 21.5}`),
			QoS:     1,
			Properties: &paho.PublishProperties{
				ContentType: "application/json",
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, ack)

	assert.Equal(t, "sensors/kitchen/temperature", got.Topic)
	assert.Equal(t, []byte(`{"value": 21.5}`), got.Payload)
	assert.Equal(t, subscription.QoSAtLeastOnce, got.QoS)
	assert.Equal(t, "application/json", got.ContentType)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestHandlePublish_NoHandler(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	// Dropped, not panicked
	ack, err := c.handlePublish(paho.PublishReceived{
		Packet: &paho.Publish{Topic: "sensors/x", Payload: []byte("data")},
	})
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestDisconnect_NeverConnected(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)
	require.NoError(t, c.Disconnect(context.Background()))
}

func TestClient_ConcurrentSessionAccess(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	// The connection manager handle and the replay set share one lock;
	// concurrent calls across the session lifecycle must stay race free.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Subscribe(context.Background(), "sensors/#", subscription.QoSAtMostOnce)
				_ = c.Unsubscribe(context.Background(), "sensors/#")
				_ = c.Disconnect(context.Background())
				_ = c.Connected()
			}
		}()
	}
	wg.Wait()
}
