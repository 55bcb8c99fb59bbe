package models

import "github.com/lib/pq"

// Message is one entry in a conversation's ordered message log. A message is
// immutable once written; only its sender may delete it.
type Message struct {
	// MessageID is generator-assigned and monotonically orderable (UUIDv7).
	MessageID string `gorm:"primaryKey" json:"message_id"`
	// ConversationID is either a random-session id or a friend-chat id.
	ConversationID string `gorm:"index:idx_conv_sent;not null" json:"conversation_id"`
	// SenderID is the id of the user who wrote the message.
	SenderID string `gorm:"not null" json:"sender_id"`
	// Body is the trimmed message text. Never empty.
	Body string `gorm:"type:text;not null" json:"body"`
	// SentAt is the write timestamp in Unix milliseconds. Messages within a
	// conversation are totally ordered by SentAt, ties broken by MessageID.
	SentAt int64 `gorm:"index:idx_conv_sent" json:"sent_at"`
}

// LastMessage is the denormalized "last message" pointer kept per
// conversation for list views. It is recomputed when the pointed-to message
// is deleted.
type LastMessage struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sent_at"`
}

// Conversation is a persistent friend-to-friend conversation. Its id is
// derived from the sorted participant pair, so create-or-get by two user ids
// always lands on the same record. Random sessions are not stored here; they
// live in the sessions table.
type Conversation struct {
	ConversationID string         `gorm:"primaryKey" json:"conversation_id"`
	Participants   pq.StringArray `gorm:"type:text[]" json:"participants"`
	CreatedAt      int64          `json:"created_at"`
}
