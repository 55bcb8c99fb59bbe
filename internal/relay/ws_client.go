package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"randolink/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Large enough for SDP offers, which run to several kilobytes.
	maxMessageSize = 64 * 1024
)

// WSClient implements Client over a gorilla/websocket connection.
type WSClient struct {
	Conn *websocket.Conn
	Hub  *Hub

	userID      string
	displayName string
	sendCh      chan models.Envelope
	closeOnce   sync.Once
}

// NewWSClient wraps an upgraded connection for the given authenticated user.
func NewWSClient(hub *Hub, conn *websocket.Conn, userID, displayName string) *WSClient {
	return &WSClient{
		Conn:        conn,
		Hub:         hub,
		userID:      userID,
		displayName: displayName,
		sendCh:      make(chan models.Envelope, 256),
	}
}

func (c *WSClient) UserID() string               { return c.userID }
func (c *WSClient) DisplayName() string          { return c.displayName }
func (c *WSClient) Send() chan<- models.Envelope { return c.sendCh }

// Run starts the read and write pumps.
func (c *WSClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the outbound channel, which stops the write pump. The read
// pump stops when the connection closes.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() { close(c.sendCh) })
}

func (c *WSClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("relay: read error from %s: %v", c.userID, err)
			}
			break
		}

		var frame models.Envelope
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("relay: bad frame from %s: %v", c.userID, err)
			continue
		}

		c.Hub.IncomingCh <- Inbound{From: c, Frame: frame}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("relay: encode error for %s: %v", c.userID, err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
