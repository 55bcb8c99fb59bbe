package store

import (
	"encoding/json"
	"errors"
	"sync"

	"randolink/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// EnqueueWaiting writes the user's waiting entry for its mode. The write is
// idempotent: re-joining overwrites the single per-user field, so a user can
// never hold two entries in one pool. Watchers of the pool are notified.
func (s *Service) EnqueueWaiting(entry models.WaitingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.Redis.HSet(s.Ctx, queueKey(entry.Mode), entry.UserID, raw).Err(); err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, queueEventsKey(entry.Mode), "changed").Err()
}

// RemoveWaiting deletes the user's waiting entry if present. Removing an
// absent entry is a no-op, not an error.
func (s *Service) RemoveWaiting(mode, userID string) error {
	removed, err := s.Redis.HDel(s.Ctx, queueKey(mode), userID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	return s.Redis.Publish(s.Ctx, queueEventsKey(mode), "changed").Err()
}

// ListWaiting returns the full waiting pool for a mode.
func (s *Service) ListWaiting(mode string) ([]models.WaitingEntry, error) {
	raw, err := s.Redis.HGetAll(s.Ctx, queueKey(mode)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]models.WaitingEntry, 0, len(raw))
	for _, v := range raw {
		var entry models.WaitingEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// WatchQueue subscribes to change notifications for a mode's waiting pool.
func (s *Service) WatchQueue(mode string) (<-chan struct{}, func(), error) {
	return s.watch(queueEventsKey(mode))
}

// SetLastMessage stores the conversation's last-message pointer, or clears it
// when ptr is nil.
func (s *Service) SetLastMessage(convID string, ptr *models.LastMessage) error {
	if ptr == nil {
		return s.Redis.Del(s.Ctx, lastMessageKey(convID)).Err()
	}
	raw, err := json.Marshal(ptr)
	if err != nil {
		return err
	}
	return s.Redis.Set(s.Ctx, lastMessageKey(convID), raw, 0).Err()
}

func (s *Service) GetLastMessage(convID string) (*models.LastMessage, error) {
	raw, err := s.Redis.Get(s.Ctx, lastMessageKey(convID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ptr models.LastMessage
	if err := json.Unmarshal([]byte(raw), &ptr); err != nil {
		return nil, err
	}
	return &ptr, nil
}

// NotifyConversationChanged wakes every subscriber of the conversation.
func (s *Service) NotifyConversationChanged(convID string) error {
	return s.Redis.Publish(s.Ctx, convEventsKey(convID), "changed").Err()
}

// WatchConversation subscribes to change notifications for a conversation's
// message log.
func (s *Service) WatchConversation(convID string) (<-chan struct{}, func(), error) {
	return s.watch(convEventsKey(convID))
}

// IncrementUnread bumps the recipient's unread counter for a conversation.
func (s *Service) IncrementUnread(userID, convID string) error {
	return s.Redis.Incr(s.Ctx, unreadKey(userID, convID)).Err()
}

// ResetUnread sets the viewer's unread counter for a conversation to zero.
func (s *Service) ResetUnread(userID, convID string) error {
	return s.Redis.Set(s.Ctx, unreadKey(userID, convID), 0, 0).Err()
}

func (s *Service) GetUnread(userID, convID string) (int, error) {
	count, err := s.Redis.Get(s.Ctx, unreadKey(userID, convID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// watch subscribes to a Redis channel and coalesces published messages into
// struct{} ticks. The returned cancel is idempotent; every subscribe call
// site must pair with exactly one cancel invocation.
func (s *Service) watch(channel string) (<-chan struct{}, func(), error) {
	sub := s.Redis.Subscribe(s.Ctx, channel)
	if _, err := sub.Receive(s.Ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	ticks := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case ticks <- struct{}{}:
				default:
					// A tick is already pending; the reader re-lists anyway.
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return ticks, cancel, nil
}
