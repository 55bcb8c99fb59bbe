package session_test

import (
	"testing"
	"time"

	"randolink/backend/internal/models"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"

	"github.com/stretchr/testify/assert"
)

// TestDeriveIDIsOrderIndependent verifies both peers derive the same session
// id regardless of which side of the pair they saw first.
func TestDeriveIDIsOrderIndependent(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	idAB := session.DeriveID(models.ModeChat, "alice", "bob", at)
	idBA := session.DeriveID(models.ModeChat, "bob", "alice", at)

	assert.Equal(t, idAB, idBA)
}

// TestDeriveIDVariesByModeAndBucket verifies chat and call sessions for the
// same pair get distinct ids, as do pairings in different time buckets.
func TestDeriveIDVariesByModeAndBucket(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	chatID := session.DeriveID(models.ModeChat, "alice", "bob", at)
	callID := session.DeriveID(models.ModeCall, "alice", "bob", at)
	laterID := session.DeriveID(models.ModeChat, "alice", "bob", at.Add(time.Minute))

	assert.NotEqual(t, chatID, callID)
	assert.NotEqual(t, chatID, laterID)
}

// TestCreateRejectsInvalidParticipants covers the self-pair and empty-id
// cases.
func TestCreateRejectsInvalidParticipants(t *testing.T) {
	registry := session.NewRegistry(store.NewMemory())

	_, err := registry.Create("alice", "alice", models.ModeChat)
	assert.ErrorIs(t, err, session.ErrInvalidParticipants)

	_, err = registry.Create("alice", "", models.ModeChat)
	assert.ErrorIs(t, err, session.ErrInvalidParticipants)
}

// TestCreateConvergesForBothSides verifies the two racing finalizers of one
// match land on a single session record.
func TestCreateConvergesForBothSides(t *testing.T) {
	registry := session.NewRegistry(store.NewMemory())

	first, err := registry.Create("alice", "bob", models.ModeChat)
	assert.NoError(t, err)
	second, err := registry.Create("bob", "alice", models.ModeChat)
	assert.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, second.Participants())
}

// TestCreateReconcilesDuplicateLiveSessions verifies a second live session
// naming a participant is resolved by ending the newer one.
func TestCreateReconcilesDuplicateLiveSessions(t *testing.T) {
	memory := store.NewMemory()
	registry := session.NewRegistry(memory)

	first, err := registry.Create("alice", "bob", models.ModeChat)
	assert.NoError(t, err)

	// Alice ends up in a second pairing before the first one ended.
	survivor, err := registry.Create("alice", "carol", models.ModeChat)
	assert.NoError(t, err)

	assert.Equal(t, first.SessionID, survivor.SessionID, "oldest session survives")

	active, err := registry.ActiveFor("carol")
	assert.NoError(t, err)
	assert.Nil(t, active, "the newer duplicate must be ended")
}

// TestEndIsIdempotent verifies both participants racing to end a session is
// harmless.
func TestEndIsIdempotent(t *testing.T) {
	registry := session.NewRegistry(store.NewMemory())
	sess, err := registry.Create("alice", "bob", models.ModeChat)
	assert.NoError(t, err)

	assert.NoError(t, registry.End(sess.SessionID, "alice"))
	assert.NoError(t, registry.End(sess.SessionID, "bob"))

	status, err := registry.Status(sess.SessionID)
	assert.NoError(t, err)
	assert.False(t, status.Active)
}

// TestEndRecordsWhoEnded verifies the first ender is the one attributed.
func TestEndRecordsWhoEnded(t *testing.T) {
	memory := store.NewMemory()
	registry := session.NewRegistry(memory)
	sess, err := registry.Create("alice", "bob", models.ModeChat)
	assert.NoError(t, err)

	assert.NoError(t, registry.End(sess.SessionID, "bob"))
	assert.NoError(t, registry.End(sess.SessionID, "alice"))

	stored, err := memory.GetSession(sess.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, "bob", stored.EndedBy)
}

// TestStatusUnknownSession verifies lookups of nonexistent ids.
func TestStatusUnknownSession(t *testing.T) {
	registry := session.NewRegistry(store.NewMemory())

	_, err := registry.Status("no-such-session")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, registry.IsLive("no-such-session"))
}

// TestWatchFiresOnEnd verifies a watcher wakes when the session ends.
func TestWatchFiresOnEnd(t *testing.T) {
	registry := session.NewRegistry(store.NewMemory())
	sess, err := registry.Create("alice", "bob", models.ModeChat)
	assert.NoError(t, err)

	ticks, cancel, err := registry.Watch(sess.SessionID)
	assert.NoError(t, err)
	defer cancel()

	assert.NoError(t, registry.End(sess.SessionID, "alice"))

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("watcher did not fire on session end")
	}
}
