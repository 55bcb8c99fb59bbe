package relay

import "randolink/backend/internal/models"

// Client is the interface for one connected relay peer. It abstracts the
// underlying transport so the hub can manage connections uniformly and tests
// can substitute in-memory clients.
type Client interface {
	// UserID returns the authenticated anonymous id for this connection.
	UserID() string
	// DisplayName returns the name shown to a matched partner.
	DisplayName() string

	// Send returns the channel the hub pushes outbound frames into. It is a
	// send-only channel; the client's write pump drains it.
	Send() chan<- models.Envelope

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's outbound channel. Safe to call once the
	// hub has unregistered the client.
	Close()
}

// Inbound is one frame received from a client, tagged with its origin.
type Inbound struct {
	From  Client
	Frame models.Envelope
}
