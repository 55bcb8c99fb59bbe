// Package relayclient is the programmatic client for the relay: it owns one
// websocket connection, a typed handler registry keyed by event kind, and
// the fire-and-forget emit surface for matchmaking and WebRTC signaling.
//
// A relay client is an explicitly constructed instance passed by reference
// to whatever owns the current session; there is no package-level shared
// connection.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"randolink/backend/internal/models"

	"github.com/gorilla/websocket"
)

// Handler registry keys. Wire events (kebab-case) are translated to these on
// dispatch; "connection" and "error" are synthesized locally.
const (
	EventConnection      = "connection"
	EventError           = "error"
	EventSearching       = "searching"
	EventSearchCancelled = "searchCancelled"
	EventChatConnected   = "chatConnected"
	EventCallConnected   = "callConnected"
	EventChatMessage     = "chatMessage"
	EventMessageSent     = "messageSent"
	EventChatEnded       = "chatEnded"
	EventCallEnded       = "callEnded"
	EventRTCOffer        = "rtcOffer"
	EventRTCAnswer       = "rtcAnswer"
	EventICECandidate    = "iceCandidate"
)

// Reconnection policy defaults: transport-managed, bounded retries, fixed
// backoff.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

// ErrNotConnected is returned by emits while the transport is down.
var ErrNotConnected = errors.New("relayclient: not connected")

// Handler receives the raw JSON payload of one event.
type Handler func(data json.RawMessage)

type registration struct {
	id int
	fn Handler
}

// Client is one relay connection plus its handler registry.
type Client struct {
	// URL is the websocket endpoint (ws://host/ws).
	URL string
	// Token is the bearer token identifying the anonymous user.
	Token string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// ReconnectAttempts overrides DefaultReconnectAttempts when positive.
	ReconnectAttempts int
	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]registration
	nextID   int
	closed   bool

	writeMu sync.Mutex
}

// New constructs a disconnected client for the given endpoint.
func New(url, token string) *Client {
	return &Client{
		URL:      url,
		Token:    token,
		handlers: make(map[string][]registration),
	}
}

// Connect establishes the relay connection, retrying up to ReconnectAttempts
// times with ReconnectDelay between attempts. On success a "connection"
// event with status "connected" fires and the read loop starts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.dispatchLocal(EventError, models.ErrorPayload{Code: "connectFailed", Message: err.Error()})
		return fmt.Errorf("relayclient: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.dispatchLocal(EventConnection, map[string]string{"status": "connected"})
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	attempts := c.ReconnectAttempts
	if attempts <= 0 {
		attempts = DefaultReconnectAttempts
	}
	delay := c.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, _, err := dialer.DialContext(ctx, c.URL, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// readLoop pumps inbound frames to the registry. A dropped connection
// triggers the bounded reconnect; when retries are exhausted the client
// stays disconnected and surfaces an error event.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn)
			return
		}

		var frame models.Envelope
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("relayclient: bad frame: %v", err)
			continue
		}
		c.dispatch(registryEvent(frame.Event), frame.Data)
	}
}

func (c *Client) handleDrop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection superseded this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.dispatchLocal(EventConnection, map[string]string{"status": "disconnected"})
	if closed {
		return
	}

	redialed, err := c.dial(context.Background())
	if err != nil {
		c.dispatchLocal(EventError, models.ErrorPayload{Code: "connectionLost", Message: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		redialed.Close()
		return
	}
	c.conn = redialed
	c.mu.Unlock()

	c.dispatchLocal(EventConnection, map[string]string{"status": "connected"})
	go c.readLoop(redialed)
}

// Disconnect tears down the connection and clears the handler registry.
// Safe to call when already disconnected, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.dispatchLocal(EventConnection, map[string]string{"status": "disconnected"})

	c.mu.Lock()
	c.handlers = make(map[string][]registration)
	c.mu.Unlock()
}

// On registers a handler for one event. Handlers for the same event run in
// registration order; a panicking handler does not prevent the remaining
// handlers from running. The returned unsubscribe is idempotent.
func (c *Client) On(event string, fn Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], registration{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		regs := c.handlers[event]
		for i, reg := range regs {
			if reg.id == id {
				c.handlers[event] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	regs := make([]registration, len(c.handlers[event]))
	copy(regs, c.handlers[event])
	c.mu.Unlock()

	for _, reg := range regs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("relayclient: handler for %s panicked: %v", event, r)
				}
			}()
			reg.fn(data)
		}()
	}
}

func (c *Client) dispatchLocal(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	c.dispatch(event, raw)
}

// Emit sends one frame. Delivery is fire-and-forget: the transport orders
// frames and delivers each at most once, but nothing is retried.
func (c *Client) Emit(event string, data any) error {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("relayclient: encode %s: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// FindRandomChat asks the relay to queue this user for a random text chat.
func (c *Client) FindRandomChat() error { return c.Emit(models.EventFindRandomChat, nil) }

// FindRandomCall asks the relay to queue this user for a random voice call.
func (c *Client) FindRandomCall() error { return c.Emit(models.EventFindRandomCall, nil) }

// CancelSearch aborts any in-flight search. Safe when none is active.
func (c *Client) CancelSearch() error { return c.Emit(models.EventCancelSearch, nil) }

// SendChatMessage sends a text message into the current session.
func (c *Client) SendChatMessage(content string) error {
	return c.Emit(models.EventChatMessage, models.ChatMessagePayload{Type: "text", Content: content})
}

// EndChat ends the current chat session.
func (c *Client) EndChat() error { return c.Emit(models.EventEndChat, nil) }

// EndCall ends the current call session.
func (c *Client) EndCall() error { return c.Emit(models.EventEndCall, nil) }

// EmitOffer forwards an SDP offer to the session's other participant.
func (c *Client) EmitOffer(offer any) error { return c.Emit(models.EventRTCOffer, offer) }

// EmitAnswer forwards an SDP answer to the session's other participant.
func (c *Client) EmitAnswer(answer any) error { return c.Emit(models.EventRTCAnswer, answer) }

// EmitIceCandidate forwards one ICE candidate to the session's other
// participant.
func (c *Client) EmitIceCandidate(candidate any) error {
	return c.Emit(models.EventICECandidate, candidate)
}

// registryEvent maps wire event names to handler registry keys.
func registryEvent(wire string) string {
	switch wire {
	case models.EventSearchCancelled:
		return EventSearchCancelled
	case models.EventChatConnected:
		return EventChatConnected
	case models.EventCallConnected:
		return EventCallConnected
	case models.EventChatMessage:
		return EventChatMessage
	case models.EventMessageSent:
		return EventMessageSent
	case models.EventChatEnded:
		return EventChatEnded
	case models.EventCallEnded:
		return EventCallEnded
	case models.EventRTCOffer:
		return EventRTCOffer
	case models.EventRTCAnswer:
		return EventRTCAnswer
	case models.EventICECandidate:
		return EventICECandidate
	default:
		// "searching" and "error" keep their wire names.
		return wire
	}
}
