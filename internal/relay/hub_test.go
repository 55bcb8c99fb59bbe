package relay_test

import (
	"encoding/json"
	"testing"
	"time"

	"randolink/backend/internal/chat"
	"randolink/backend/internal/config"
	"randolink/backend/internal/models"
	"randolink/backend/internal/queue"
	"randolink/backend/internal/relay"
	"randolink/backend/internal/report"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"

	"github.com/stretchr/testify/assert"
)

func newTestHub(memory *store.Memory) *relay.Hub {
	registry := session.NewRegistry(memory)
	matchmaker := queue.NewMatchmaker(memory, registry)
	matchmaker.MatchTimeout = 2 * time.Second
	hub := relay.NewHub(matchmaker, registry, chat.NewChannel(memory), report.NewService(memory))
	go hub.Run()
	return hub
}

func frame(t *testing.T, event string, data any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	assert.NoError(t, err)
	return env
}

// connectPair registers both clients and drives them through a full chat
// match, returning once both hold the same session.
func connectPair(t *testing.T, hub *relay.Hub, a, b *mockClient) (sessionID string) {
	t.Helper()
	hub.RegisterCh <- a
	hub.RegisterCh <- b
	hub.IncomingCh <- relay.Inbound{From: a, Frame: frame(t, models.EventFindRandomChat, nil)}
	hub.IncomingCh <- relay.Inbound{From: b, Frame: frame(t, models.EventFindRandomChat, nil)}

	connA := waitFor(t, a, models.EventChatConnected)
	connB := waitFor(t, b, models.EventChatConnected)

	var payloadA, payloadB models.ConnectedPayload
	assert.NoError(t, json.Unmarshal(connA.Data, &payloadA))
	assert.NoError(t, json.Unmarshal(connB.Data, &payloadB))
	assert.Equal(t, payloadA.SessionID, payloadB.SessionID)
	assert.Equal(t, b.UserID(), payloadA.PartnerID)
	assert.Equal(t, a.UserID(), payloadB.PartnerID)
	return payloadA.SessionID
}

// TestHubMatchesTwoSearchers verifies the search acknowledgment and the
// connect notifications for a chat pairing.
func TestHubMatchesTwoSearchers(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")

	hub.RegisterCh <- alice
	hub.RegisterCh <- bob
	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventFindRandomChat, nil)}

	searching := waitFor(t, alice, models.EventSearching)
	var sp models.SearchingPayload
	assert.NoError(t, json.Unmarshal(searching.Data, &sp))
	assert.Equal(t, models.ModeChat, sp.Mode)

	hub.IncomingCh <- relay.Inbound{From: bob, Frame: frame(t, models.EventFindRandomChat, nil)}

	conn := waitFor(t, alice, models.EventChatConnected)
	var payload models.ConnectedPayload
	assert.NoError(t, json.Unmarshal(conn.Data, &payload))
	assert.Equal(t, "bob", payload.PartnerID)
	assert.Equal(t, "Bob", payload.PartnerName)

	waitFor(t, bob, models.EventChatConnected)
}

// TestHubMatchesCallMode verifies call searches connect with the call event.
func TestHubMatchesCallMode(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")

	hub.RegisterCh <- alice
	hub.RegisterCh <- bob
	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventFindRandomCall, nil)}
	hub.IncomingCh <- relay.Inbound{From: bob, Frame: frame(t, models.EventFindRandomCall, nil)}

	waitFor(t, alice, models.EventCallConnected)
	waitFor(t, bob, models.EventCallConnected)
}

// TestHubRelaysChatMessages verifies the partner receives the message and
// the sender gets the persisted echo.
func TestHubRelaysChatMessages(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.IncomingCh <- relay.Inbound{
		From:  alice,
		Frame: frame(t, models.EventChatMessage, models.ChatMessagePayload{Content: "hey there"}),
	}

	received := waitFor(t, bob, models.EventChatMessage)
	var in models.ChatMessagePayload
	assert.NoError(t, json.Unmarshal(received.Data, &in))
	assert.Equal(t, "hey there", in.Content)
	assert.Equal(t, "alice", in.SenderID)
	assert.Equal(t, "Alice", in.Sender)
	assert.NotEmpty(t, in.MessageID)

	echo := waitFor(t, alice, models.EventMessageSent)
	var out models.ChatMessagePayload
	assert.NoError(t, json.Unmarshal(echo.Data, &out))
	assert.Equal(t, in.MessageID, out.MessageID)
}

// TestHubRejectsEmptyMessage verifies the sender gets an error frame and
// the partner sees nothing.
func TestHubRejectsEmptyMessage(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.IncomingCh <- relay.Inbound{
		From:  alice,
		Frame: frame(t, models.EventChatMessage, models.ChatMessagePayload{Content: "   "}),
	}

	errFrame := waitFor(t, alice, models.EventError)
	var payload models.ErrorPayload
	assert.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "emptyMessage", payload.Code)
	expectSilence(t, bob, 150*time.Millisecond)
}

// TestHubEndReasons verifies the asymmetric end notifications: youLeft for
// the initiator, partnerLeft for the other side.
func TestHubEndReasons(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventEndChat, nil)}

	endedA := waitFor(t, alice, models.EventChatEnded)
	var reasonA models.EndedPayload
	assert.NoError(t, json.Unmarshal(endedA.Data, &reasonA))
	assert.Equal(t, "youLeft", reasonA.Reason)

	endedB := waitFor(t, bob, models.EventChatEnded)
	var reasonB models.EndedPayload
	assert.NoError(t, json.Unmarshal(endedB.Data, &reasonB))
	assert.Equal(t, "partnerLeft", reasonB.Reason)
}

// TestHubDisconnectNotifiesPartner verifies a dropped connection reads as
// partnerLeft on the surviving side.
func TestHubDisconnectNotifiesPartner(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.UnregisterCh <- alice

	ended := waitFor(t, bob, models.EventChatEnded)
	var reason models.EndedPayload
	assert.NoError(t, json.Unmarshal(ended.Data, &reason))
	assert.Equal(t, "partnerLeft", reason.Reason)

	assert.Eventually(t, alice.isClosed, time.Second, 10*time.Millisecond)
}

// TestHubDisconnectRacingMatchEndsSession verifies a client that vanishes
// around the moment its match lands never leaves the partner stuck in a
// live session with a ghost.
func TestHubDisconnectRacingMatchEndsSession(t *testing.T) {
	memory := store.NewMemory()
	registry := session.NewRegistry(memory)
	matchmaker := queue.NewMatchmaker(memory, registry)
	matchmaker.MatchTimeout = 2 * time.Second
	hub := relay.NewHub(matchmaker, registry, chat.NewChannel(memory), report.NewService(memory))
	go hub.Run()

	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	hub.RegisterCh <- bob
	hub.IncomingCh <- relay.Inbound{From: bob, Frame: frame(t, models.EventFindRandomChat, nil)}
	waitFor(t, bob, models.EventSearching)

	hub.RegisterCh <- alice
	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventFindRandomChat, nil)}

	conn := waitFor(t, bob, models.EventChatConnected)
	var payload models.ConnectedPayload
	assert.NoError(t, json.Unmarshal(conn.Data, &payload))

	// Alice drops. Whether her own match result was dispatched yet or is
	// still in flight, the session must end and bob must hear about it.
	hub.UnregisterCh <- alice

	ended := waitFor(t, bob, models.EventChatEnded)
	var reason models.EndedPayload
	assert.NoError(t, json.Unmarshal(ended.Data, &reason))
	assert.Equal(t, "partnerLeft", reason.Reason)

	assert.Eventually(t, func() bool {
		return !registry.IsLive(payload.SessionID)
	}, time.Second, 10*time.Millisecond, "the ghost's session must not stay live")
}

// TestHubEndAppliesEarlyDisconnectPenalty verifies bailing out of a fresh
// session with no exchange costs both participants reputation.
func TestHubEndAppliesEarlyDisconnectPenalty(t *testing.T) {
	memory := store.NewMemory()
	assert.NoError(t, memory.SaveUser(&models.User{ID: "alice", DisplayName: "Alice", ReputationScore: config.InitialReputation}))
	assert.NoError(t, memory.SaveUser(&models.User{ID: "bob", DisplayName: "Bob", ReputationScore: config.InitialReputation}))
	hub := newTestHub(memory)
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventEndChat, nil)}
	waitFor(t, alice, models.EventChatEnded)
	waitFor(t, bob, models.EventChatEnded)

	for _, id := range []string{"alice", "bob"} {
		user, err := memory.GetUserByID(id)
		assert.NoError(t, err)
		assert.Equal(t, config.InitialReputation+config.EarlyDisconnectPenalty, user.ReputationScore, id)
	}
}

// TestHubForwardsSignaling verifies negotiation frames pass through to the
// partner untouched while the session is live.
func TestHubForwardsSignaling(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	offer := map[string]string{"type": "offer", "sdp": "v=0"}
	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventRTCOffer, offer)}

	forwarded := waitFor(t, bob, models.EventRTCOffer)
	var got map[string]string
	assert.NoError(t, json.Unmarshal(forwarded.Data, &got))
	assert.Equal(t, offer, got)
}

// TestHubDropsStaleSignaling verifies signaling after the session ended
// never reaches the partner.
func TestHubDropsStaleSignaling(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	alice := newMockClient("alice", "Alice")
	bob := newMockClient("bob", "Bob")
	connectPair(t, hub, alice, bob)

	hub.IncomingCh <- relay.Inbound{From: alice, Frame: frame(t, models.EventEndChat, nil)}
	waitFor(t, alice, models.EventChatEnded)
	waitFor(t, bob, models.EventChatEnded)

	hub.IncomingCh <- relay.Inbound{
		From:  alice,
		Frame: frame(t, models.EventRTCOffer, map[string]string{"type": "offer"}),
	}

	expectSilence(t, bob, 150*time.Millisecond)
}

// TestHubCancelAlwaysAcks verifies cancel-search is acknowledged even with
// no search running.
func TestHubCancelAlwaysAcks(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	carol := newMockClient("carol", "Carol")
	hub.RegisterCh <- carol

	hub.IncomingCh <- relay.Inbound{From: carol, Frame: frame(t, models.EventCancelSearch, nil)}

	waitFor(t, carol, models.EventSearchCancelled)
}

// TestHubCancelSettlesRunningSearch verifies an in-flight search is aborted
// by cancel-search.
func TestHubCancelSettlesRunningSearch(t *testing.T) {
	hub := newTestHub(store.NewMemory())
	carol := newMockClient("carol", "Carol")
	hub.RegisterCh <- carol

	hub.IncomingCh <- relay.Inbound{From: carol, Frame: frame(t, models.EventFindRandomChat, nil)}
	waitFor(t, carol, models.EventSearching)

	hub.IncomingCh <- relay.Inbound{From: carol, Frame: frame(t, models.EventCancelSearch, nil)}

	waitFor(t, carol, models.EventSearchCancelled)
}
