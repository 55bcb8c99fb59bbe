package main

import (
	"testing"
	"time"

	"randolink/backend/internal/config"
	"randolink/backend/internal/models"
	"randolink/backend/internal/store"

	"github.com/stretchr/testify/assert"
)

func TestBanUserWithoutDurationUsesDefault(t *testing.T) {
	memory := store.NewMemory()
	assert.NoError(t, memory.SaveUser(&models.User{ID: "alice", DisplayName: "Alice"}))

	assert.NoError(t, banUser(memory, "alice", 0))

	user, err := memory.GetUserByID("alice")
	assert.NoError(t, err)
	assert.True(t, user.IsBlocked)
	assert.InDelta(t, time.Now().Add(config.BanLevel1Duration).Unix(), user.BlockEndTime, 5)

	banned, err := memory.IsUserBanned("alice")
	assert.NoError(t, err)
	assert.True(t, banned)
}

func TestBanUserWithDuration(t *testing.T) {
	memory := store.NewMemory()
	assert.NoError(t, memory.SaveUser(&models.User{ID: "bob", DisplayName: "Bob"}))

	assert.NoError(t, banUser(memory, "bob", 2))

	user, err := memory.GetUserByID("bob")
	assert.NoError(t, err)
	assert.InDelta(t, time.Now().Add(2*time.Hour).Unix(), user.BlockEndTime, 5)

	banned, err := memory.IsUserBanned("bob")
	assert.NoError(t, err)
	assert.True(t, banned)
}

func TestUnbanUserClearsBlock(t *testing.T) {
	memory := store.NewMemory()
	assert.NoError(t, memory.SaveUser(&models.User{ID: "carol", DisplayName: "Carol"}))
	assert.NoError(t, banUser(memory, "carol", 0))

	assert.NoError(t, unbanUser(memory, "carol"))

	banned, err := memory.IsUserBanned("carol")
	assert.NoError(t, err)
	assert.False(t, banned)
}
