// Package chat implements the ordered, append-only message exchange scoped
// to a conversation id, with sender-only deletion and per-viewer unread
// counters.
package chat

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"randolink/backend/internal/models"
	"randolink/backend/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage is returned when the trimmed body is empty.
	ErrEmptyMessage = errors.New("chat: message body is empty")
	// ErrConversationEnded is returned when the conversation is no longer
	// accepting writes.
	ErrConversationEnded = errors.New("chat: conversation has ended")
	// ErrNotFound is returned for unknown conversations or messages.
	ErrNotFound = errors.New("chat: not found")
	// ErrUnauthorized is returned when someone other than the sender tries
	// to delete a message.
	ErrUnauthorized = errors.New("chat: only the sender may delete a message")
)

// ChatID derives the stable conversation id for a pair of friends, so
// create-or-get by two user ids always resolves to the same conversation.
func ChatID(userID1, userID2 string) string {
	a, b := models.SortPair(userID1, userID2)
	return fmt.Sprintf("chat_%s_%s", a, b)
}

// Channel is the messaging service over a conversation id. A conversation is
// either a random session (write-closed once the session ends) or a friend
// chat (never closes).
type Channel struct {
	Store store.Storage
}

// NewChannel constructs a Channel.
func NewChannel(s store.Storage) *Channel {
	return &Channel{Store: s}
}

// Send validates, persists and announces one message. The unread-counter
// bump for the recipients is fire-and-forget: the send succeeds even when
// the counter update fails.
func (c *Channel) Send(convID, senderID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	participants, open, err := c.resolve(convID)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrConversationEnded
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("chat: message id: %w", err)
	}
	msg := &models.Message{
		MessageID:      id.String(),
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         time.Now().UnixMilli(),
	}

	if err := c.Store.SaveMessage(msg); err != nil {
		return nil, fmt.Errorf("chat: send: %w", err)
	}

	if err := c.Store.SetLastMessage(convID, &models.LastMessage{
		MessageID: msg.MessageID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		SentAt:    msg.SentAt,
	}); err != nil {
		log.Printf("chat: failed to update last-message pointer for %s: %v", convID, err)
	}

	go func() {
		for _, userID := range participants {
			if userID == senderID {
				continue
			}
			if err := c.Store.IncrementUnread(userID, convID); err != nil {
				log.Printf("chat: failed to bump unread for %s/%s: %v", userID, convID, err)
			}
		}
	}()

	if err := c.Store.NotifyConversationChanged(convID); err != nil {
		log.Printf("chat: failed to notify subscribers of %s: %v", convID, err)
	}
	return msg, nil
}

// Delete removes a message. Only the sender may delete; when the deleted
// message was the last-message pointer, the pointer is recomputed from the
// remaining set, or cleared when nothing remains.
func (c *Channel) Delete(convID, messageID, requesterID string) error {
	msg, err := c.Store.GetMessage(convID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("chat: delete: %w", err)
	}
	if msg.SenderID != requesterID {
		return ErrUnauthorized
	}

	if err := c.Store.DeleteMessage(convID, messageID); err != nil {
		return fmt.Errorf("chat: delete: %w", err)
	}

	last, err := c.Store.GetLastMessage(convID)
	if err != nil {
		log.Printf("chat: failed to read last-message pointer for %s: %v", convID, err)
	} else if last != nil && last.MessageID == messageID {
		if err := c.recomputeLast(convID); err != nil {
			log.Printf("chat: failed to recompute last-message pointer for %s: %v", convID, err)
		}
	}

	if err := c.Store.NotifyConversationChanged(convID); err != nil {
		log.Printf("chat: failed to notify subscribers of %s: %v", convID, err)
	}
	return nil
}

// List returns the conversation's full message log in send order.
func (c *Channel) List(convID string) ([]models.Message, error) {
	messages, err := c.Store.ListMessages(convID)
	if err != nil {
		return nil, fmt.Errorf("chat: list: %w", err)
	}
	SortMessages(messages)
	return messages, nil
}

// Subscribe delivers the full re-sorted message list to onUpdate on every
// change, starting with the current state. Subscribers always observe the
// whole set, not deltas, so out-of-order delivery notifications from the
// store cannot reorder the UI. The returned unsubscribe is idempotent.
func (c *Channel) Subscribe(convID string, onUpdate func([]models.Message)) (func(), error) {
	ticks, cancelWatch, err := c.Store.WatchConversation(convID)
	if err != nil {
		return nil, fmt.Errorf("chat: subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		deliver := func() {
			messages, err := c.List(convID)
			if err != nil {
				log.Printf("chat: subscription list for %s: %v", convID, err)
				return
			}
			onUpdate(messages)
		}
		deliver()
		for {
			select {
			case <-done:
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			cancelWatch()
		})
	}, nil
}

// MarkRead resets the viewer's unread counter for the conversation to zero.
func (c *Channel) MarkRead(convID, viewerID string) error {
	if err := c.Store.ResetUnread(viewerID, convID); err != nil {
		return fmt.Errorf("chat: mark read: %w", err)
	}
	return nil
}

// Unread returns the viewer's current unread count for the conversation.
func (c *Channel) Unread(convID, viewerID string) (int, error) {
	return c.Store.GetUnread(viewerID, convID)
}

// resolve maps a conversation id to its participants and write-openness.
// Session ids take precedence; anything else must be a friend conversation.
func (c *Channel) resolve(convID string) (participants []string, open bool, err error) {
	sess, err := c.Store.GetSession(convID)
	if err == nil {
		return sess.Participants(), !sess.Ended, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("chat: resolve %s: %w", convID, err)
	}

	conv, err := c.Store.GetConversation(convID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("chat: resolve %s: %w", convID, err)
	}
	return conv.Participants, true, nil
}

// recomputeLast selects the newest remaining message as the last-message
// pointer, or clears the pointer when the log is empty.
func (c *Channel) recomputeLast(convID string) error {
	messages, err := c.Store.ListMessages(convID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return c.Store.SetLastMessage(convID, nil)
	}
	SortMessages(messages)
	newest := messages[len(messages)-1]
	return c.Store.SetLastMessage(convID, &models.LastMessage{
		MessageID: newest.MessageID,
		SenderID:  newest.SenderID,
		Body:      newest.Body,
		SentAt:    newest.SentAt,
	})
}

// SortMessages orders messages by send time, ties broken by message id, the
// total order every subscriber observes.
func SortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SentAt != messages[j].SentAt {
			return messages[i].SentAt < messages[j].SentAt
		}
		return messages[i].MessageID < messages[j].MessageID
	})
}
