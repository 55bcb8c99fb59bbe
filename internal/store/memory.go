package store

import (
	"sort"
	"sync"
	"time"

	"randolink/backend/internal/models"
)

// Memory implements Storage entirely in process. It backs unit tests and
// local development runs where PostgreSQL and Redis are not available. The
// semantics mirror Service: idempotent enqueue, create-if-absent sessions,
// coalesced watch ticks.
type Memory struct {
	mu       sync.Mutex
	users    map[string]*models.User
	bans     map[string]time.Time
	queues   map[string]map[string]models.WaitingEntry
	sessions map[string]*models.Session
	convs    map[string]*models.Conversation
	messages map[string][]models.Message
	lastMsgs map[string]*models.LastMessage
	unread   map[string]int
	reports  []models.Report
	nextID   uint
	watchers map[string][]chan struct{}
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*models.User),
		bans:     make(map[string]time.Time),
		queues:   make(map[string]map[string]models.WaitingEntry),
		sessions: make(map[string]*models.Session),
		convs:    make(map[string]*models.Conversation),
		messages: make(map[string][]models.Message),
		lastMsgs: make(map[string]*models.LastMessage),
		unread:   make(map[string]int),
		watchers: make(map[string][]chan struct{}),
	}
}

var _ Storage = (*Memory)(nil)

// notify wakes every watcher of key without blocking. Callers hold mu.
func (m *Memory) notify(key string) {
	for _, ch := range m.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) watchKey(key string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			chans := m.watchers[key]
			for i, c := range chans {
				if c == ch {
					m.watchers[key] = append(chans[:i:i], chans[i+1:]...)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

func (m *Memory) SaveUser(user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *Memory) UpdateUser(user *models.User) error {
	return m.SaveUser(user)
}

func (m *Memory) GetUserByID(id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *Memory) UpdateUserReputation(userID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.ReputationScore += delta
	}
	return nil
}

func (m *Memory) IsUserBanned(userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.bans[userID]; ok && until.After(time.Now()) {
		return true, nil
	}
	user, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	return user.IsBlocked && user.BlockEndTime > time.Now().Unix(), nil
}

func (m *Memory) GetLastBanDate(userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return 0, nil
	}
	return user.LastBanDate, nil
}

func (m *Memory) SetBanMarker(userID string, until time.Time) error {
	if time.Until(until) <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[userID] = until
	return nil
}

func (m *Memory) EnqueueWaiting(entry models.WaitingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.queues[entry.Mode]
	if !ok {
		pool = make(map[string]models.WaitingEntry)
		m.queues[entry.Mode] = pool
	}
	pool[entry.UserID] = entry
	m.notify(queueEventsKey(entry.Mode))
	return nil
}

func (m *Memory) RemoveWaiting(mode, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.queues[mode]
	if _, ok := pool[userID]; !ok {
		return nil
	}
	delete(pool, userID)
	m.notify(queueEventsKey(mode))
	return nil
}

func (m *Memory) ListWaiting(mode string) ([]models.WaitingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]models.WaitingEntry, 0, len(m.queues[mode]))
	for _, entry := range m.queues[mode] {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Memory) WatchQueue(mode string) (<-chan struct{}, func(), error) {
	return m.watchKey(queueEventsKey(mode))
}

func (m *Memory) CreateSessionIfAbsent(session *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[session.SessionID]; ok {
		clone := *existing
		return &clone, nil
	}
	clone := *session
	m.sessions[session.SessionID] = &clone
	result := clone
	return &result, nil
}

func (m *Memory) GetSession(id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *Memory) MarkSessionEnded(id, byUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || session.Ended {
		return false, nil
	}
	now := time.Now()
	session.Ended = true
	session.EndedBy = byUserID
	session.EndedAt = &now
	m.notify(sessionEventsKey(id))
	return true, nil
}

func (m *Memory) ActiveSessionsFor(userID string) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []models.Session
	for _, session := range m.sessions {
		if !session.Ended && session.HasParticipant(userID) {
			sessions = append(sessions, *session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

func (m *Memory) WatchSession(id string) (<-chan struct{}, func(), error) {
	return m.watchKey(sessionEventsKey(id))
}

func (m *Memory) EnsureConversation(conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ConversationID]; ok {
		return nil
	}
	clone := *conv
	m.convs[conv.ConversationID] = &clone
	return nil
}

func (m *Memory) GetConversation(id string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (m *Memory) SaveMessage(msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *Memory) GetMessage(convID, messageID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[convID] {
		if msg.MessageID == messageID {
			clone := msg
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteMessage(convID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[convID]
	for i, msg := range msgs {
		if msg.MessageID == messageID {
			m.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) ListMessages(convID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]models.Message, len(m.messages[convID]))
	copy(msgs, m.messages[convID])
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt != msgs[j].SentAt {
			return msgs[i].SentAt < msgs[j].SentAt
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
	return msgs, nil
}

func (m *Memory) SetLastMessage(convID string, ptr *models.LastMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ptr == nil {
		delete(m.lastMsgs, convID)
		return nil
	}
	clone := *ptr
	m.lastMsgs[convID] = &clone
	return nil
}

func (m *Memory) GetLastMessage(convID string) (*models.LastMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ptr, ok := m.lastMsgs[convID]
	if !ok {
		return nil, nil
	}
	clone := *ptr
	return &clone, nil
}

func (m *Memory) NotifyConversationChanged(convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify(convEventsKey(convID))
	return nil
}

func (m *Memory) WatchConversation(convID string) (<-chan struct{}, func(), error) {
	return m.watchKey(convEventsKey(convID))
}

func (m *Memory) IncrementUnread(userID, convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[unreadKey(userID, convID)]++
	return nil
}

func (m *Memory) ResetUnread(userID, convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[unreadKey(userID, convID)] = 0
	return nil
}

func (m *Memory) GetUnread(userID, convID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[unreadKey(userID, convID)], nil
}

func (m *Memory) SaveReport(report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if report.Status == "" {
		report.Status = "new"
	}
	m.nextID++
	report.ID = m.nextID
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	m.reports = append(m.reports, *report)
	return nil
}

func (m *Memory) GetReportByID(id uint) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, report := range m.reports {
		if report.ID == id {
			clone := report
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetReportsForUser(userID string, since time.Time) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reports []models.Report
	for _, report := range m.reports {
		if report.ReportedUserID == userID && report.CreatedAt.After(since) {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
