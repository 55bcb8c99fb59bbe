// Package session is the single source of truth for whether a matched pair's
// session is still live. Both the messaging channel and the call controller
// consult it before touching session-scoped state.
package session

import (
	"errors"
	"fmt"
	"log"
	"time"

	"randolink/backend/internal/models"
	"randolink/backend/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrInvalidParticipants is returned when a session is requested for a
	// user paired with themselves.
	ErrInvalidParticipants = errors.New("session participants must be two distinct users")
	// ErrNotFound is returned when the session id resolves to nothing.
	ErrNotFound = errors.New("session not found")
)

// sessionNamespace seeds deterministic session id derivation.
var sessionNamespace = uuid.MustParse("3f1aa4b6-9d2c-45e1-8a5f-27d90be4c1a7")

// idBucket is the coarse time bucket folded into derived session ids. Two
// clients finalizing the same pair within one bucket produce the same id and
// converge on one record.
const idBucket = 30 * time.Second

// Status describes a session for callers that only need liveness.
type Status struct {
	Active       bool     `json:"active"`
	Participants []string `json:"participants"`
	Mode         string   `json:"mode"`
}

// Registry owns session lifecycle: create, end (exactly once), status.
type Registry struct {
	Store store.Storage

	// now is swapped in tests to pin the id derivation bucket.
	now func() time.Time
}

// NewRegistry constructs a Registry over the given storage.
func NewRegistry(s store.Storage) *Registry {
	return &Registry{Store: s, now: time.Now}
}

// DeriveID computes the deterministic session id for a pair in a mode at time
// at. The pair is sorted first, so both peers derive the same id regardless
// of which side they saw the match from.
func DeriveID(mode, userA, userB string, at time.Time) string {
	a, b := models.SortPair(userA, userB)
	bucket := at.Unix() / int64(idBucket/time.Second)
	name := fmt.Sprintf("%s|%s|%s|%d", mode, a, b, bucket)
	return uuid.NewSHA1(sessionNamespace, []byte(name)).String()
}

// Create finalizes a session for the pair. Creation is convergent: racing
// creators land on the same record via the deterministic id, and any
// duplicate live session that slips through a bucket boundary is reconciled
// by ending the newer record. The surviving session is returned.
func (r *Registry) Create(userA, userB, mode string) (*models.Session, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrInvalidParticipants
	}

	a, b := models.SortPair(userA, userB)
	session := &models.Session{
		SessionID: DeriveID(mode, a, b, r.now()),
		UserAID:   a,
		UserBID:   b,
		Mode:      mode,
		Ended:     false,
		CreatedAt: r.now(),
	}

	created, err := r.Store.CreateSessionIfAbsent(session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return r.reconcile(created)
}

// reconcile ends every live session for either participant except the oldest
// one, and returns the survivor. Ending the newer duplicate is the pinned
// policy for the double-creation race.
func (r *Registry) reconcile(created *models.Session) (*models.Session, error) {
	survivor := created
	for _, userID := range created.Participants() {
		live, err := r.Store.ActiveSessionsFor(userID)
		if err != nil {
			return nil, fmt.Errorf("reconcile sessions for %s: %w", userID, err)
		}
		if len(live) < 2 {
			continue
		}
		// ActiveSessionsFor returns oldest first.
		for _, dup := range live[1:] {
			if _, err := r.Store.MarkSessionEnded(dup.SessionID, ""); err != nil {
				log.Printf("session: failed to end duplicate %s: %v", dup.SessionID, err)
				continue
			}
			log.Printf("session: ended duplicate session %s for %s", dup.SessionID, userID)
			if dup.SessionID == survivor.SessionID {
				survivor = &live[0]
			}
		}
	}
	return survivor, nil
}

// ActiveFor returns the oldest live session naming userID, or nil when the
// user is not in any live session.
func (r *Registry) ActiveFor(userID string) (*models.Session, error) {
	live, err := r.Store.ActiveSessionsFor(userID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}
	return &live[0], nil
}

// End marks the session ended. The transition happens exactly once; both
// participants racing to end the same session is expected, and the second
// call is a no-op, never an error.
func (r *Registry) End(sessionID, byUserID string) error {
	transitioned, err := r.Store.MarkSessionEnded(sessionID, byUserID)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	if transitioned {
		log.Printf("session: %s ended by %s", sessionID, byUserID)
	}
	return nil
}

// Status reports liveness, participants and mode for a session.
func (r *Registry) Status(sessionID string) (*Status, error) {
	session, err := r.Store.GetSession(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Status{
		Active:       !session.Ended,
		Participants: session.Participants(),
		Mode:         session.Mode,
	}, nil
}

// IsLive reports whether the session exists and has not ended.
func (r *Registry) IsLive(sessionID string) bool {
	session, err := r.Store.GetSession(sessionID)
	if err != nil {
		return false
	}
	return !session.Ended
}

// Watch subscribes to the session's end notification. The caller owns the
// returned cancel and must invoke it exactly once.
func (r *Registry) Watch(sessionID string) (<-chan struct{}, func(), error) {
	return r.Store.WatchSession(sessionID)
}
