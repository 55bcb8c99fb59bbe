package relay_test

import (
	"sync"
	"testing"
	"time"

	"randolink/backend/internal/models"
)

// mockClient is a hub client whose outbound frames land in an inbox the
// test can inspect.
type mockClient struct {
	id    string
	name  string
	inbox chan models.Envelope

	mu     sync.Mutex
	closed bool
}

func newMockClient(id, name string) *mockClient {
	return &mockClient{
		id:    id,
		name:  name,
		inbox: make(chan models.Envelope, 32),
	}
}

func (c *mockClient) UserID() string               { return c.id }
func (c *mockClient) DisplayName() string          { return c.name }
func (c *mockClient) Send() chan<- models.Envelope { return c.inbox }
func (c *mockClient) Run()                         {}

func (c *mockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *mockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitFor reads the client's inbox until the wanted event arrives, failing
// the test after two seconds. Other frames are discarded.
func waitFor(t *testing.T, c *mockClient, event string) models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.inbox:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q on %s", event, c.id)
			return models.Envelope{}
		}
	}
}

// expectSilence asserts no frame reaches the client within the window.
func expectSilence(t *testing.T, c *mockClient, window time.Duration) {
	t.Helper()
	select {
	case env := <-c.inbox:
		t.Fatalf("unexpected frame %q on %s", env.Event, c.id)
	case <-time.After(window):
	}
}
