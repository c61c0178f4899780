package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
)

func testSnapshot(cycle int64) models.Snapshot {
	return models.Snapshot{
		Status:  models.RunStatus{CycleCount: cycle},
		TakenAt: time.Now(),
	}
}

// TestEnqueueDropsOldest verifies the per-subscriber overflow policy: the
// newest payload always makes it into a full queue.
func TestEnqueueDropsOldest(t *testing.T) {
	sub := &subscriber{sendCh: make(chan []byte, 2)}

	sub.enqueue([]byte("one"))
	sub.enqueue([]byte("two"))
	sub.enqueue([]byte("three")) // queue full: "one" is dropped

	assert.Equal(t, "two", string(<-sub.sendCh))
	assert.Equal(t, "three", string(<-sub.sendCh))
	assert.Empty(t, sub.sendCh)
}

// TestServeWSSnapshotOnConnect verifies that a new subscriber immediately
// receives the current snapshot, then cycle updates as they are published.
func TestServeWSSnapshotOnConnect(t *testing.T) {
	hub := NewHub(HubOptions{QueueSize: 4}, func() models.Snapshot { return testSnapshot(7) }, zap.NewNop().Sugar())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "state_update", msg.Type)
	assert.Equal(t, int64(7), msg.Data.Status.CycleCount)
	assert.NotZero(t, msg.Timestamp)

	// A published cycle snapshot reaches the subscriber next.
	hub.Publish(testSnapshot(8))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, int64(8), msg.Data.Status.CycleCount)
}

// TestHubClose verifies that Close disconnects every subscriber.
func TestHubClose(t *testing.T) {
	hub := NewHub(HubOptions{}, func() models.Snapshot { return testSnapshot(1) }, zap.NewNop().Sugar())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Close()

	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
