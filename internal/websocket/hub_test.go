package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvlicense/pkg/contracts/domain"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func registerTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		id:     "test-client",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	hub.register <- client

	// Wait for the registration to land
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)
	return client
}

func TestHub_RegisterSendsConnectionMessage(t *testing.T) {
	hub := newTestHub()
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub)

	select {
	case data := <-client.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, TypeConnection, env.Type)
	case <-time.After(time.Second):
		t.Fatal("no connection message received")
	}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := newTestHub()
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub)
	<-client.send // drain the connection message

	hub.BroadcastActivity(domain.ActivityRecord{
		Action:     "ISSUED",
		LicenseKey: "ELV-FEED-KEY",
	})

	select {
	case data := <-client.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, TypeActivity, env.Type)

		payload, err := json.Marshal(env.Data)
		require.NoError(t, err)
		var record domain.ActivityRecord
		require.NoError(t, json.Unmarshal(payload, &record))
		assert.Equal(t, "ELV-FEED-KEY", record.LicenseKey)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := newTestHub()
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub)
	hub.unregister <- client

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)

	// Channel is closed after unregister; drain any buffered messages
	for {
		if _, ok := <-client.send; !ok {
			return
		}
	}
}

func TestHub_StartIsIdempotent(t *testing.T) {
	hub := newTestHub()
	hub.Start()
	hub.Start()
	defer hub.Stop()

	assert.Zero(t, hub.ClientCount())
}
