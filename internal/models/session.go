package models

import (
	"sort"
	"time"
)

// Session modes.
const (
	ModeChat = "chat"
	ModeCall = "call"
)

// Session represents one matched pair of users and their shared chat or call
// context. Participants are fixed at creation; Ended transitions exactly once
// from false to true and never back.
type Session struct {
	// SessionID is the unique identifier for the session. It is derived
	// deterministically from the participant pair so that two clients racing
	// to create a session for the same pair converge on one record.
	SessionID string `gorm:"primaryKey" json:"session_id"`
	// UserAID is the lexicographically smaller participant id.
	UserAID string `gorm:"index" json:"user_a_id"`
	// UserBID is the lexicographically larger participant id.
	UserBID string `gorm:"index" json:"user_b_id"`
	// Mode is either ModeChat or ModeCall.
	Mode string `json:"mode"`
	// Ended indicates whether either participant has ended the session.
	Ended bool `gorm:"index" json:"ended"`
	// EndedBy is the id of the participant that ended the session.
	EndedBy   string     `json:"ended_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Participants returns both participant ids in their stored (sorted) order.
func (s *Session) Participants() []string {
	return []string{s.UserAID, s.UserBID}
}

// HasParticipant reports whether userID is one of the session's two participants.
func (s *Session) HasParticipant(userID string) bool {
	return s.UserAID == userID || s.UserBID == userID
}

// PartnerOf returns the other participant's id, or "" when userID is not a
// participant.
func (s *Session) PartnerOf(userID string) string {
	switch userID {
	case s.UserAID:
		return s.UserBID
	case s.UserBID:
		return s.UserAID
	}
	return ""
}

// SortPair returns the two ids in lexicographic order.
func SortPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}
