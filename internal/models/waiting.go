package models

// WaitingEntry marks one user as currently seeking a random partner in a
// given mode. At most one entry exists per (user, mode) at any time; the
// entry is removed on match, on explicit cancel, or on timeout.
type WaitingEntry struct {
	UserID      string `json:"user_id"`
	Mode        string `json:"mode"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	// EnqueuedAt is the enqueue timestamp in Unix milliseconds.
	EnqueuedAt int64 `json:"enqueued_at"`
}
