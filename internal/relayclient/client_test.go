package relayclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"randolink/backend/internal/models"
	"randolink/backend/internal/relayclient"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// newRelayServer serves one websocket endpoint that pushes the given frames
// to every connection and then holds it open.
func newRelayServer(t *testing.T, frames ...models.Envelope) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustEnvelope(t *testing.T, event string, data any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	assert.NoError(t, err)
	return env
}

// TestHandlersRunInOrderAndSurvivePanics verifies registration-order
// dispatch with per-handler panic isolation.
func TestHandlersRunInOrderAndSurvivePanics(t *testing.T) {
	srv, url := newRelayServer(t, mustEnvelope(t, models.EventSearching, models.SearchingPayload{Mode: models.ModeChat}))
	defer srv.Close()

	client := relayclient.New(url, "test-token")

	var mu sync.Mutex
	var order []string
	fired := make(chan struct{}, 3)
	record := func(label string) relayclient.Handler {
		return func(data json.RawMessage) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			fired <- struct{}{}
		}
	}

	client.On(relayclient.EventSearching, record("first"))
	client.On(relayclient.EventSearching, func(json.RawMessage) {
		fired <- struct{}{}
		panic("handler blew up")
	})
	client.On(relayclient.EventSearching, record("third"))

	assert.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not all run")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "third"}, order)
}

// TestWireEventMapping verifies kebab-case wire names arrive under the
// registry keys.
func TestWireEventMapping(t *testing.T) {
	srv, url := newRelayServer(t,
		mustEnvelope(t, models.EventChatConnected, models.ConnectedPayload{SessionID: "s1", PartnerID: "bob"}),
	)
	defer srv.Close()

	client := relayclient.New(url, "test-token")
	connected := make(chan models.ConnectedPayload, 1)
	client.On(relayclient.EventChatConnected, func(data json.RawMessage) {
		var payload models.ConnectedPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			connected <- payload
		}
	})

	assert.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case payload := <-connected:
		assert.Equal(t, "s1", payload.SessionID)
		assert.Equal(t, "bob", payload.PartnerID)
	case <-time.After(2 * time.Second):
		t.Fatal("chat-connected never dispatched")
	}
}

// TestUnsubscribeIsIdempotent verifies a removed handler stays removed and
// double removal is harmless.
func TestUnsubscribeIsIdempotent(t *testing.T) {
	srv, url := newRelayServer(t, mustEnvelope(t, models.EventSearching, nil))
	defer srv.Close()

	client := relayclient.New(url, "test-token")

	removedFired := false
	keptCh := make(chan struct{}, 1)
	unsubscribe := client.On(relayclient.EventSearching, func(json.RawMessage) {
		removedFired = true
	})
	client.On(relayclient.EventSearching, func(json.RawMessage) {
		keptCh <- struct{}{}
	})

	unsubscribe()
	unsubscribe()

	assert.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case <-keptCh:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining handler did not fire")
	}
	assert.False(t, removedFired, "unsubscribed handler must not run")
}

// TestEmitWhileDisconnected verifies emits fail fast without a transport.
func TestEmitWhileDisconnected(t *testing.T) {
	client := relayclient.New("ws://127.0.0.1:1/ws", "test-token")

	err := client.FindRandomChat()

	assert.ErrorIs(t, err, relayclient.ErrNotConnected)
}

// TestConnectionEventsFire verifies the synthesized connection events on
// connect and disconnect.
func TestConnectionEventsFire(t *testing.T) {
	srv, url := newRelayServer(t)
	defer srv.Close()

	client := relayclient.New(url, "test-token")
	statuses := make(chan string, 4)
	client.On(relayclient.EventConnection, func(data json.RawMessage) {
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err == nil {
			statuses <- payload["status"]
		}
	})

	assert.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, "connected", <-statuses)

	client.Disconnect()
	select {
	case status := <-statuses:
		assert.Equal(t, "disconnected", status)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event")
	}

	// Disconnect again is a no-op with a cleared registry.
	client.Disconnect()
	select {
	case status := <-statuses:
		t.Fatalf("unexpected connection event %q after registry clear", status)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestAutoReconnectAfterServerDrop verifies a server-side drop is followed
// by a transport-managed redial and a fresh synthesized connected event.
func TestAutoReconnectAfterServerDrop(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()
		// The first connection is dropped immediately; later ones are held
		// open.
		if first {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := relayclient.New(url, "test-token")
	client.ReconnectDelay = 20 * time.Millisecond
	statuses := make(chan string, 8)
	client.On(relayclient.EventConnection, func(data json.RawMessage) {
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err == nil {
			statuses <- payload["status"]
		}
	})

	assert.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	for _, expected := range []string{"connected", "disconnected", "connected"} {
		select {
		case status := <-statuses:
			assert.Equal(t, expected, status)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %q connection event", expected)
		}
	}
}

// TestReconnectRetriesExhaust verifies the bounded redial gives up with a
// connectionLost error and leaves the client disconnected.
func TestReconnectRetriesExhaust(t *testing.T) {
	srv, url := newRelayServer(t)
	defer srv.Close()

	client := relayclient.New(url, "test-token")
	client.ReconnectAttempts = 2
	client.ReconnectDelay = 20 * time.Millisecond

	errs := make(chan models.ErrorPayload, 2)
	client.On(relayclient.EventError, func(data json.RawMessage) {
		var payload models.ErrorPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			errs <- payload
		}
	})

	assert.NoError(t, client.Connect(context.Background()))

	// Take the server away entirely: the listener stops accepting, then the
	// live connection drops.
	assert.NoError(t, srv.Listener.Close())
	srv.CloseClientConnections()

	select {
	case payload := <-errs:
		assert.Equal(t, "connectionLost", payload.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("retry exhaustion never surfaced")
	}

	assert.ErrorIs(t, client.FindRandomChat(), relayclient.ErrNotConnected)
}

// TestDisconnectClearsRegistry verifies handlers do not survive an explicit
// disconnect.
func TestDisconnectClearsRegistry(t *testing.T) {
	srv, url := newRelayServer(t, mustEnvelope(t, models.EventSearching, nil))
	defer srv.Close()

	client := relayclient.New(url, "test-token")
	firstRun := make(chan struct{}, 2)
	client.On(relayclient.EventSearching, func(json.RawMessage) {
		firstRun <- struct{}{}
	})

	assert.NoError(t, client.Connect(context.Background()))
	select {
	case <-firstRun:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not fire on first connection")
	}

	client.Disconnect()

	// Reconnect; the server pushes the same frame, but the old handler is
	// gone.
	assert.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case <-firstRun:
		t.Fatal("stale handler survived Disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}
