package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/store"
)

type fakeResolver struct {
	conversations map[string]*models.Conversation
}

func (f *fakeResolver) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	conversation, ok := f.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conversation, nil
}

type hubHarness struct {
	hub    *Hub
	server *httptest.Server
}

// newHarness starts a server whose /ws endpoint registers connections under
// the user ID passed in the query string.
func newHarness(t *testing.T, resolver ConversationResolver, pingInterval time.Duration) *hubHarness {
	h := NewHub(resolver, pingInterval, nil)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.Register(r.URL.Query().Get("user"), ws)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(h.Close)

	return &hubHarness{hub: h, server: server}
}

func (hh *hubHarness) dial(t *testing.T, userID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(hh.server.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func waitFor(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSendDeliversFrame(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, time.Minute)
	client := harness.dial(t, "alice")
	waitFor(t, func() bool { return harness.hub.IsConnected("alice") })

	harness.hub.Send("alice", map[string]string{"type": "new_message", "text": "hi"})

	frame := readFrame(t, client)
	assert.Equal(t, "new_message", frame["type"])
	assert.Equal(t, "hi", frame["text"])
}

func TestSendToDisconnectedUserIsNoop(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, time.Minute)
	harness.hub.Send("nobody", map[string]string{"type": "new_message"})
	assert.Equal(t, 0, harness.hub.ConnectionCount())
}

func TestLatestConnectionWins(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, time.Minute)

	first := harness.dial(t, "alice")
	waitFor(t, func() bool { return harness.hub.IsConnected("alice") })

	second := harness.dial(t, "alice")
	// The first socket is closed by the supersede.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 1, harness.hub.ConnectionCount())

	harness.hub.Send("alice", map[string]string{"type": "new_message"})
	frame := readFrame(t, second)
	assert.Equal(t, "new_message", frame["type"])
}

func TestBroadcastExcludesSenderAndSkipsDisconnected(t *testing.T) {
	resolver := &fakeResolver{conversations: map[string]*models.Conversation{
		"c1": {
			ID:           "c1",
			Type:         models.ConversationGroup,
			Participants: []string{"alice", "bob", "carol"},
		},
	}}
	harness := newHarness(t, resolver, time.Minute)

	alice := harness.dial(t, "alice")
	bob := harness.dial(t, "bob")
	// carol never connects.
	waitFor(t, func() bool { return harness.hub.ConnectionCount() == 2 })

	harness.hub.Broadcast(context.Background(), "c1", map[string]string{"type": "new_message"}, "alice")

	frame := readFrame(t, bob)
	assert.Equal(t, "new_message", frame["type"])

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err, "excluded sender must not receive the broadcast")
}

func TestBroadcastUnknownConversation(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, time.Minute)
	// Must not panic.
	harness.hub.Broadcast(context.Background(), "missing", map[string]string{"type": "x"}, "")
}

func TestHeartbeatSendsPings(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, 50*time.Millisecond)
	client := harness.dial(t, "alice")

	frame := readFrame(t, client)
	assert.Equal(t, "ping", frame["type"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestHeartbeatClosesSilentConnection(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, 50*time.Millisecond)
	harness.dial(t, "alice")
	waitFor(t, func() bool { return harness.hub.IsConnected("alice") })

	// Never answering pings trips the 2x interval deadline.
	waitFor(t, func() bool { return !harness.hub.IsConnected("alice") })
}

func TestHeartbeatKeepsRespondingConnectionAlive(t *testing.T) {
	harness := newHarness(t, &fakeResolver{}, 50*time.Millisecond)
	client := harness.dial(t, "alice")
	waitFor(t, func() bool { return harness.hub.IsConnected("alice") })

	// Emulate the read loop acknowledging pings.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(25 * time.Millisecond):
				harness.hub.mu.RLock()
				conn := harness.hub.connections["alice"]
				harness.hub.mu.RUnlock()
				if conn != nil {
					conn.TouchPong()
				}
			}
		}
	}()
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.True(t, harness.hub.IsConnected("alice"))
}
