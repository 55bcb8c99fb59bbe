// Package relay is the low-latency bidirectional event channel between
// clients and the matching core: matchmaking notifications, session-scoped
// text messages, and WebRTC signaling between exactly the two participants
// of a call session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"randolink/backend/internal/chat"
	"randolink/backend/internal/models"
	"randolink/backend/internal/queue"
	"randolink/backend/internal/report"
	"randolink/backend/internal/session"
)

// Hub routes frames between connected clients. All client and pairing state
// is owned by the single Run goroutine; other goroutines talk to it through
// channels only.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound

	matchCh chan matchResult

	Matchmaker *queue.Matchmaker
	Registry   *session.Registry
	Chat       *chat.Channel
	Reports    *report.Service

	clients map[string]Client
	state   map[string]*peerState
}

// peerState is the hub-side view of one connected user: their in-flight
// search, or their live session and partner.
type peerState struct {
	sessionID    string
	partnerID    string
	mode         string
	cancelSearch context.CancelFunc
}

type matchResult struct {
	userID string
	mode   string
	match  *queue.Match
	err    error
}

// NewHub constructs a Hub wired to the matching core.
func NewHub(m *queue.Matchmaker, r *session.Registry, c *chat.Channel, rep *report.Service) *Hub {
	return &Hub{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound, 64),
		matchCh:      make(chan matchResult, 16),
		Matchmaker:   m,
		Registry:     r,
		Chat:         c,
		Reports:      rep,
		clients:      make(map[string]Client),
		state:        make(map[string]*peerState),
	}
}

// Run is the hub's dispatcher loop.
func (h *Hub) Run() {
	log.Println("relay: hub started")
	for {
		select {
		case c := <-h.RegisterCh:
			h.handleRegister(c)
		case c := <-h.UnregisterCh:
			h.handleDisconnect(c)
		case in := <-h.IncomingCh:
			h.handleFrame(in.From, in.Frame)
		case res := <-h.matchCh:
			h.handleMatch(res)
		}
	}
}

func (h *Hub) handleRegister(c Client) {
	if old, ok := h.clients[c.UserID()]; ok {
		h.handleDisconnect(old)
	}
	h.clients[c.UserID()] = c
	h.state[c.UserID()] = &peerState{}
	log.Printf("relay: client %s connected", c.UserID())
}

// handleDisconnect tears down everything the connection owned: its waiting
// entries, its in-flight search, and its live session (with partner
// notification), mirroring an explicit leave.
func (h *Hub) handleDisconnect(c Client) {
	uid := c.UserID()
	if current, ok := h.clients[uid]; !ok || current != c {
		return
	}

	st := h.state[uid]
	delete(h.clients, uid)
	delete(h.state, uid)

	if st != nil && st.cancelSearch != nil {
		st.cancelSearch()
	}
	if err := h.Matchmaker.LeaveQueue(uid); err != nil {
		log.Printf("relay: leave queue for %s: %v", uid, err)
	}
	if st != nil && st.sessionID != "" {
		h.finishSession(uid, st, "")
	}

	c.Close()
	log.Printf("relay: client %s disconnected", uid)
}

func (h *Hub) handleFrame(c Client, frame models.Envelope) {
	switch frame.Event {
	case models.EventFindRandomChat:
		h.startSearch(c, models.ModeChat)
	case models.EventFindRandomCall:
		h.startSearch(c, models.ModeCall)
	case models.EventCancelSearch:
		h.cancelSearch(c)
	case models.EventChatMessage:
		h.relayMessage(c, frame.Data)
	case models.EventEndChat, models.EventEndCall:
		st := h.state[c.UserID()]
		if st == nil || st.sessionID == "" {
			return
		}
		h.finishSession(c.UserID(), st, c.UserID())
	case models.EventRTCOffer, models.EventRTCAnswer, models.EventICECandidate:
		h.forwardSignal(c, frame)
	default:
		log.Printf("relay: dropped unknown event %q from %s", frame.Event, c.UserID())
	}
}

// startSearch puts the client into the matchmaking pool for mode. A repeated
// find while already searching resumes the existing search.
func (h *Hub) startSearch(c Client, mode string) {
	uid := c.UserID()
	st := h.state[uid]
	if st == nil {
		return
	}

	h.emit(c, models.EventSearching, models.SearchingPayload{Mode: mode})
	if st.cancelSearch != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	st.cancelSearch = cancel

	entry := models.WaitingEntry{
		UserID:      uid,
		Mode:        mode,
		DisplayName: c.DisplayName(),
		EnqueuedAt:  time.Now().UnixMilli(),
	}
	go func() {
		match, err := h.Matchmaker.JoinQueue(ctx, entry)
		h.matchCh <- matchResult{userID: uid, mode: mode, match: match, err: err}
	}()
}

func (h *Hub) cancelSearch(c Client) {
	st := h.state[c.UserID()]
	if st == nil {
		return
	}
	if st.cancelSearch != nil {
		st.cancelSearch()
	}
	if err := h.Matchmaker.LeaveQueue(c.UserID()); err != nil {
		log.Printf("relay: leave queue for %s: %v", c.UserID(), err)
	}
	// Cancelling with no active search still acknowledges, so the client's
	// UI reset is never left hanging.
	h.emit(c, models.EventSearchCancelled, nil)
}

func (h *Hub) handleMatch(res matchResult) {
	c, ok := h.clients[res.userID]
	st := h.state[res.userID]
	if !ok || st == nil {
		// The client vanished mid-search. Its disconnect ran before the
		// match landed, so any session created for it is still live: end
		// it here and let the partner know.
		if res.err == nil && res.match != nil {
			h.finishSession(res.userID, &peerState{
				sessionID: res.match.SessionID,
				partnerID: res.match.PartnerID,
				mode:      res.match.Mode,
			}, "")
		}
		return
	}
	st.cancelSearch = nil

	switch {
	case res.err == nil:
		st.sessionID = res.match.SessionID
		st.partnerID = res.match.PartnerID
		st.mode = res.match.Mode
		event := models.EventChatConnected
		if res.match.Mode == models.ModeCall {
			event = models.EventCallConnected
		}
		h.emit(c, event, models.ConnectedPayload{
			SessionID:   res.match.SessionID,
			PartnerID:   res.match.PartnerID,
			PartnerName: res.match.PartnerName,
		})
	case errors.Is(res.err, queue.ErrCancelled):
		h.emit(c, models.EventSearchCancelled, nil)
	case errors.Is(res.err, queue.ErrTimeout):
		h.emit(c, models.EventError, models.ErrorPayload{Code: "timeout"})
	case errors.Is(res.err, queue.ErrBanned):
		h.emit(c, models.EventError, models.ErrorPayload{Code: "banned"})
	default:
		log.Printf("relay: search failed for %s: %v", res.userID, res.err)
		h.emit(c, models.EventError, models.ErrorPayload{Code: "searchFailed"})
	}
}

// relayMessage persists the text through the messaging channel and fans it
// out: chat-message to the partner, message-sent back to the sender.
func (h *Hub) relayMessage(c Client, data json.RawMessage) {
	uid := c.UserID()
	st := h.state[uid]
	if st == nil || st.sessionID == "" {
		return
	}

	var in models.ChatMessagePayload
	if err := json.Unmarshal(data, &in); err != nil {
		log.Printf("relay: bad chat-message from %s: %v", uid, err)
		return
	}

	msg, err := h.Chat.Send(st.sessionID, uid, in.Content)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		h.emit(c, models.EventError, models.ErrorPayload{Code: "emptyMessage"})
		return
	case errors.Is(err, chat.ErrConversationEnded), errors.Is(err, chat.ErrNotFound):
		h.emit(c, models.EventError, models.ErrorPayload{Code: "conversationEnded"})
		return
	case err != nil:
		log.Printf("relay: send failed for %s: %v", uid, err)
		h.emit(c, models.EventError, models.ErrorPayload{Code: "sendFailed"})
		return
	}

	out := models.ChatMessagePayload{
		Type:      "text",
		Content:   msg.Body,
		Sender:    c.DisplayName(),
		SenderID:  uid,
		MessageID: msg.MessageID,
		Timestamp: msg.SentAt,
	}
	if partner, ok := h.clients[st.partnerID]; ok {
		h.emit(partner, models.EventChatMessage, out)
	}
	h.emit(c, models.EventMessageSent, out)
}

// finishSession ends the session in the registry and notifies both sides.
// byUserID is the participant who asked; empty means a disconnect. The
// registry end is idempotent, so both participants racing here is fine.
func (h *Hub) finishSession(uid string, st *peerState, byUserID string) {
	sessionID, partnerID, mode := st.sessionID, st.partnerID, st.mode
	st.sessionID, st.partnerID, st.mode = "", "", ""

	if err := h.Registry.End(sessionID, byUserID); err != nil {
		log.Printf("relay: end session %s: %v", sessionID, err)
	}
	if h.Reports != nil {
		if err := h.Reports.ScoreSession(sessionID); err != nil {
			log.Printf("relay: score session %s: %v", sessionID, err)
		}
	}

	event := models.EventChatEnded
	if mode == models.ModeCall {
		event = models.EventCallEnded
	}

	if byUserID != "" {
		if c, ok := h.clients[uid]; ok {
			h.emit(c, event, models.EndedPayload{Reason: "youLeft"})
		}
	}
	if partner, ok := h.clients[partnerID]; ok {
		h.emit(partner, event, models.EndedPayload{Reason: "partnerLeft"})
		if pst := h.state[partnerID]; pst != nil && pst.sessionID == sessionID {
			pst.sessionID, pst.partnerID, pst.mode = "", "", ""
		}
	}
}

// forwardSignal relays a WebRTC negotiation frame to the session partner.
// Frames for ended or unknown sessions are discarded, so stale signaling can
// never reach a peer after teardown.
func (h *Hub) forwardSignal(c Client, frame models.Envelope) {
	st := h.state[c.UserID()]
	if st == nil || st.sessionID == "" {
		return
	}
	if !h.Registry.IsLive(st.sessionID) {
		log.Printf("relay: dropped %s for ended session %s", frame.Event, st.sessionID)
		return
	}
	partner, ok := h.clients[st.partnerID]
	if !ok {
		return
	}
	select {
	case partner.Send() <- frame:
	default:
		log.Printf("relay: dropped %s to slow client %s", frame.Event, st.partnerID)
	}
}

// emit pushes one frame to a client without ever blocking the dispatcher; a
// client whose write pump cannot keep up loses frames rather than stalling
// the hub.
func (h *Hub) emit(c Client, event string, data any) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		log.Printf("relay: failed to encode %s: %v", event, err)
		return
	}
	select {
	case c.Send() <- env:
	default:
		log.Printf("relay: dropped %s to slow client %s", event, c.UserID())
	}
}
