package models

import "encoding/json"

// Relay wire events. Outbound names are what the server pushes to clients,
// inbound names are what clients send up. The set is fixed; anything else is
// dropped by the hub.
const (
	// Inbound (client -> server).
	EventFindRandomChat = "find-random-chat"
	EventFindRandomCall = "find-random-call"
	EventCancelSearch   = "cancel-search"
	EventEndChat        = "end-chat"
	EventEndCall        = "end-call"

	// Both directions.
	EventChatMessage  = "chat-message"
	EventRTCOffer     = "rtc-offer"
	EventRTCAnswer    = "rtc-answer"
	EventICECandidate = "ice-candidate"

	// Outbound (server -> client).
	EventSearching       = "searching"
	EventSearchCancelled = "search-cancelled"
	EventChatConnected   = "chat-connected"
	EventCallConnected   = "call-connected"
	EventMessageSent     = "message-sent"
	EventChatEnded       = "chat-ended"
	EventCallEnded       = "call-ended"
	EventError           = "error"
)

// Envelope is one relay frame: an event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope for event. Marshal failures are
// reported to the caller rather than producing a half-built frame.
func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// SearchingPayload accompanies the "searching" event.
type SearchingPayload struct {
	Mode string `json:"mode"`
}

// ConnectedPayload accompanies "chat-connected" and "call-connected".
type ConnectedPayload struct {
	SessionID   string `json:"sessionId"`
	PartnerID   string `json:"partnerId"`
	PartnerName string `json:"partnerName"`
}

// ChatMessagePayload carries one relayed text message. For inbound frames
// only Content is meaningful; the server fills in the rest on delivery.
type ChatMessagePayload struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// EndedPayload accompanies "chat-ended" and "call-ended".
type EndedPayload struct {
	Reason string `json:"reason"` // "youLeft" | "partnerLeft"
}

// SignalPayload carries a WebRTC negotiation message between the two
// participants of a call session. Payload is opaque to the relay.
type SignalPayload struct {
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorPayload accompanies the "error" event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
