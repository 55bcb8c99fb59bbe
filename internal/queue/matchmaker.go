// Package queue pairs waiting users into sessions as fast as possible while
// guaranteeing no user is matched twice and no user waits without a defined
// outcome: every join settles with a match, a timeout, or a cancellation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"randolink/backend/internal/models"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"
)

var (
	// ErrInvalidUser is returned when the joining user has no id.
	ErrInvalidUser = errors.New("queue: user id must not be empty")
	// ErrTimeout is returned when no partner was found within the bound.
	ErrTimeout = errors.New("queue: no partner found before the deadline")
	// ErrCancelled is returned when the search was cancelled by the user.
	// It marks a user-initiated abort, not a failure.
	ErrCancelled = errors.New("queue: search cancelled")
	// ErrBanned is returned when the user is currently blocked from matching.
	ErrBanned = errors.New("queue: user is banned")
)

// DefaultMatchTimeout bounds how long a join waits for a partner.
const DefaultMatchTimeout = 30 * time.Second

// Match is the outcome of a successful pairing.
type Match struct {
	SessionID   string
	PartnerID   string
	PartnerName string
	Mode        string
}

// Matchmaker maintains the waiting pools and resolves pairs. Both matched
// users run the same protocol concurrently; convergence is guaranteed by the
// deterministic partner pick (lexicographically first other id) plus the
// registry's deterministic session ids.
type Matchmaker struct {
	Store    store.Storage
	Registry *session.Registry

	// MatchTimeout overrides DefaultMatchTimeout when non-zero.
	MatchTimeout time.Duration

	mu      sync.Mutex
	waiters map[string]*waiter
}

// waiter is one in-flight search. Concurrent JoinQueue calls for the same
// (user, mode) attach to the same waiter instead of creating a second entry.
type waiter struct {
	done   chan struct{}
	match  *Match
	err    error
	cancel chan struct{}

	settleOnce sync.Once
	cancelOnce sync.Once
}

func (w *waiter) settle(match *Match, err error) {
	w.settleOnce.Do(func() {
		w.match = match
		w.err = err
		close(w.done)
	})
}

func (w *waiter) requestCancel() {
	w.cancelOnce.Do(func() { close(w.cancel) })
}

// NewMatchmaker constructs a Matchmaker.
func NewMatchmaker(s store.Storage, r *session.Registry) *Matchmaker {
	return &Matchmaker{
		Store:    s,
		Registry: r,
		waiters:  make(map[string]*waiter),
	}
}

// JoinQueue places the user into the waiting pool for entry.Mode and blocks
// until a partner is matched, the bound elapses (ErrTimeout), or the search
// is cancelled (ErrCancelled). A join while a search is already live for the
// same user resumes that search instead of adding a second entry.
func (m *Matchmaker) JoinQueue(ctx context.Context, entry models.WaitingEntry) (*Match, error) {
	if entry.UserID == "" {
		return nil, ErrInvalidUser
	}
	if entry.Mode == "" {
		entry.Mode = models.ModeChat
	}
	if entry.EnqueuedAt == 0 {
		entry.EnqueuedAt = time.Now().UnixMilli()
	}

	banned, err := m.Store.IsUserBanned(entry.UserID)
	if err != nil {
		return nil, fmt.Errorf("queue: ban check: %w", err)
	}
	if banned {
		return nil, ErrBanned
	}

	key := waiterKey(entry.Mode, entry.UserID)

	m.mu.Lock()
	w, resumed := m.waiters[key]
	if !resumed {
		w = &waiter{done: make(chan struct{}), cancel: make(chan struct{})}
		m.waiters[key] = w
	}
	m.mu.Unlock()

	if !resumed {
		go m.run(entry, key, w)
	}

	select {
	case <-ctx.Done():
		w.requestCancel()
		return nil, ErrCancelled
	case <-w.done:
		return w.match, w.err
	}
}

// LeaveQueue removes the user from every waiting pool and settles any
// pending join with ErrCancelled. Idempotent; never errors on "not waiting".
func (m *Matchmaker) LeaveQueue(userID string) error {
	if userID == "" {
		return nil
	}
	for _, mode := range []string{models.ModeChat, models.ModeCall} {
		m.mu.Lock()
		w := m.waiters[waiterKey(mode, userID)]
		m.mu.Unlock()
		if w != nil {
			w.requestCancel()
		}
		if err := m.Store.RemoveWaiting(mode, userID); err != nil {
			log.Printf("queue: failed to remove %s from %s pool: %v", userID, mode, err)
		}
	}
	return nil
}

// run is the search loop for one waiter. It holds exactly one queue
// subscription and releases it on every exit path.
func (m *Matchmaker) run(entry models.WaitingEntry, key string, w *waiter) {
	defer func() {
		m.mu.Lock()
		delete(m.waiters, key)
		m.mu.Unlock()
	}()

	fail := func(err error) {
		if rmErr := m.Store.RemoveWaiting(entry.Mode, entry.UserID); rmErr != nil {
			log.Printf("queue: failed to remove waiting entry for %s: %v", entry.UserID, rmErr)
		}
		w.settle(nil, err)
	}

	if err := m.Store.EnqueueWaiting(entry); err != nil {
		w.settle(nil, fmt.Errorf("queue: enqueue: %w", err))
		return
	}

	ticks, cancelWatch, err := m.Store.WatchQueue(entry.Mode)
	if err != nil {
		fail(fmt.Errorf("queue: watch: %w", err))
		return
	}
	defer cancelWatch()

	timeout := m.MatchTimeout
	if timeout == 0 {
		timeout = DefaultMatchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Someone may already be waiting; evaluate before the first tick.
	if m.evaluate(entry, w) {
		return
	}

	for {
		select {
		case <-w.cancel:
			fail(ErrCancelled)
			return
		case <-timer.C:
			fail(ErrTimeout)
			return
		case <-ticks:
			if m.evaluate(entry, w) {
				return
			}
		}
	}
}

// evaluate inspects the current pool listing and attempts to finalize a
// match. It reports true when the waiter has been settled.
func (m *Matchmaker) evaluate(entry models.WaitingEntry, w *waiter) bool {
	listing, err := m.Store.ListWaiting(entry.Mode)
	if err != nil {
		log.Printf("queue: failed to list %s pool: %v", entry.Mode, err)
		return false
	}

	var mine bool
	others := make([]models.WaitingEntry, 0, len(listing))
	for _, e := range listing {
		if e.UserID == entry.UserID {
			mine = true
			continue
		}
		others = append(others, e)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].UserID < others[j].UserID })

	if !mine {
		// Our entry is gone: either a peer finalized a match for us, or the
		// search was cancelled elsewhere. A live session naming us decides.
		return m.resolveFromSession(entry, w)
	}

	if len(others) == 0 {
		return false
	}

	// Deterministic pick: both members of the winning pair independently
	// select each other.
	partner := others[0]

	sess, err := m.Registry.Create(entry.UserID, partner.UserID, entry.Mode)
	if err != nil {
		log.Printf("queue: failed to create session for %s/%s: %v", entry.UserID, partner.UserID, err)
		return false
	}
	if sess.Ended || sess.PartnerOf(entry.UserID) != partner.UserID {
		// Reconciliation refused the pairing we just attempted: it either
		// dissolved the new session (possibly handing back its ended
		// leftover) or kept an older live session naming us instead. The
		// picked candidate never matched and stays pooled; a live session
		// naming us decides our own search, if one exists.
		return m.settleFromLiveSession(entry, w)
	}

	if err := m.Store.RemoveWaiting(entry.Mode, entry.UserID); err != nil {
		log.Printf("queue: failed to dequeue %s: %v", entry.UserID, err)
	}
	if err := m.Store.RemoveWaiting(entry.Mode, partner.UserID); err != nil {
		log.Printf("queue: failed to dequeue %s: %v", partner.UserID, err)
	}

	w.settle(&Match{
		SessionID:   sess.SessionID,
		PartnerID:   partner.UserID,
		PartnerName: partner.DisplayName,
		Mode:        entry.Mode,
	}, nil)
	return true
}

// settleFromLiveSession settles the waiter from the oldest live session
// naming the user while their own entry is still pooled, removing that entry
// on success. Nobody else's entry is touched.
func (m *Matchmaker) settleFromLiveSession(entry models.WaitingEntry, w *waiter) bool {
	sess, err := m.Registry.ActiveFor(entry.UserID)
	if err != nil {
		log.Printf("queue: failed to look up session for %s: %v", entry.UserID, err)
		return false
	}
	if sess == nil || sess.Mode != entry.Mode {
		return false
	}
	if err := m.Store.RemoveWaiting(entry.Mode, entry.UserID); err != nil {
		log.Printf("queue: failed to dequeue %s: %v", entry.UserID, err)
	}
	partnerID := sess.PartnerOf(entry.UserID)
	w.settle(&Match{
		SessionID:   sess.SessionID,
		PartnerID:   partnerID,
		PartnerName: m.displayName(partnerID),
		Mode:        entry.Mode,
	}, nil)
	return true
}

// resolveFromSession settles the waiter from the live session that names the
// user, covering the side of the pair whose entry was deleted by the other
// side's finalize.
func (m *Matchmaker) resolveFromSession(entry models.WaitingEntry, w *waiter) bool {
	sess, err := m.Registry.ActiveFor(entry.UserID)
	if err != nil {
		log.Printf("queue: failed to look up session for %s: %v", entry.UserID, err)
		return false
	}
	if sess == nil || sess.Mode != entry.Mode {
		return false
	}
	partnerID := sess.PartnerOf(entry.UserID)
	w.settle(&Match{
		SessionID:   sess.SessionID,
		PartnerID:   partnerID,
		PartnerName: m.displayName(partnerID),
		Mode:        entry.Mode,
	}, nil)
	return true
}

func (m *Matchmaker) displayName(userID string) string {
	user, err := m.Store.GetUserByID(userID)
	if err != nil {
		return ""
	}
	return user.DisplayName
}

func waiterKey(mode, userID string) string { return mode + "/" + userID }
