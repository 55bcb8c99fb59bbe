package store

import (
	"context"
	"errors"
	"log"
	"time"

	"randolink/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the persistence boundary for the matching and messaging core.
// Durable records (users, sessions, conversations, messages, reports) live in
// PostgreSQL; volatile shared state (waiting entries, unread counters, change
// notifications) lives in Redis.
type Storage interface {
	SaveUser(user *models.User) error
	UpdateUser(user *models.User) error
	GetUserByID(id string) (*models.User, error)
	UpdateUserReputation(userID string, delta int) error
	IsUserBanned(userID string) (bool, error)
	GetLastBanDate(userID string) (int64, error)
	SetBanMarker(userID string, until time.Time) error

	EnqueueWaiting(entry models.WaitingEntry) error
	RemoveWaiting(mode, userID string) error
	ListWaiting(mode string) ([]models.WaitingEntry, error)
	WatchQueue(mode string) (<-chan struct{}, func(), error)

	CreateSessionIfAbsent(session *models.Session) (*models.Session, error)
	GetSession(id string) (*models.Session, error)
	MarkSessionEnded(id, byUserID string) (bool, error)
	ActiveSessionsFor(userID string) ([]models.Session, error)
	WatchSession(id string) (<-chan struct{}, func(), error)

	EnsureConversation(conv *models.Conversation) error
	GetConversation(id string) (*models.Conversation, error)
	SaveMessage(msg *models.Message) error
	GetMessage(convID, messageID string) (*models.Message, error)
	DeleteMessage(convID, messageID string) error
	ListMessages(convID string) ([]models.Message, error)
	SetLastMessage(convID string, ptr *models.LastMessage) error
	GetLastMessage(convID string) (*models.LastMessage, error)
	NotifyConversationChanged(convID string) error
	WatchConversation(convID string) (<-chan struct{}, func(), error)

	IncrementUnread(userID, convID string) error
	ResetUnread(userID, convID string) error
	GetUnread(userID, convID string) (int, error)

	SaveReport(report *models.Report) error
	GetReportByID(id uint) (*models.Report, error)
	GetReportsForUser(userID string, since time.Time) ([]models.Report, error)
}

// Service implements Storage on top of GORM and go-redis.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewService constructs the storage service.
func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// SaveUser inserts or updates a user record.
func (s *Service) SaveUser(user *models.User) error {
	return s.DB.Save(user).Error
}

// UpdateUser persists changes to an existing user.
func (s *Service) UpdateUser(user *models.User) error {
	return s.DB.Save(user).Error
}

func (s *Service) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserReputation applies delta to the user's reputation score.
func (s *Service) UpdateUserReputation(userID string, delta int) error {
	return s.DB.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("reputation_score", gorm.Expr("reputation_score + ?", delta)).Error
}

// IsUserBanned checks the Redis ban marker first, then falls back to the
// durable block fields on the user record.
func (s *Service) IsUserBanned(userID string) (bool, error) {
	status, err := s.Redis.Get(s.Ctx, banKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	if status != "" {
		return true, nil
	}

	user, err := s.GetUserByID(userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsBlocked && user.BlockEndTime > time.Now().Unix(), nil
}

func (s *Service) GetLastBanDate(userID string) (int64, error) {
	user, err := s.GetUserByID(userID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return user.LastBanDate, nil
}

// SetBanMarker records a fast-path ban marker in Redis that expires with the
// ban itself.
func (s *Service) SetBanMarker(userID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.Redis.Set(s.Ctx, banKey(userID), "active", ttl).Err()
}

// CreateSessionIfAbsent writes the session unless a record with the same id
// already exists, and returns whichever record is now current. Two clients
// racing to create the same deterministic id both converge here.
func (s *Service) CreateSessionIfAbsent(session *models.Session) (*models.Session, error) {
	err := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(session).Error
	if err != nil {
		return nil, err
	}
	return s.GetSession(session.SessionID)
}

func (s *Service) GetSession(id string) (*models.Session, error) {
	var session models.Session
	err := s.DB.Where("session_id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkSessionEnded flips Ended to true exactly once. The returned bool is
// true when this call performed the transition and false when the session was
// already ended. The end is published so both participants' watchers fire.
func (s *Service) MarkSessionEnded(id, byUserID string) (bool, error) {
	res := s.DB.Model(&models.Session{}).
		Where("session_id = ? AND ended = ?", id, false).
		Updates(map[string]interface{}{
			"ended":    true,
			"ended_by": byUserID,
			"ended_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := s.Redis.Publish(s.Ctx, sessionEventsKey(id), "ended").Err(); err != nil {
		log.Printf("store: failed to publish session end for %s: %v", id, err)
	}
	return true, nil
}

// ActiveSessionsFor lists all not-yet-ended sessions naming userID, oldest
// first.
func (s *Service) ActiveSessionsFor(userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.DB.Where("ended = ?", false).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("created_at asc, session_id asc").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Service) WatchSession(id string) (<-chan struct{}, func(), error) {
	return s.watch(sessionEventsKey(id))
}

func (s *Service) SaveReport(report *models.Report) error {
	if report.Status == "" {
		report.Status = "new"
	}
	if err := s.DB.Create(report).Error; err != nil {
		log.Printf("store: failed to save report for session %s: %v", report.SessionID, err)
		return err
	}
	return nil
}

func (s *Service) GetReportByID(id uint) (*models.Report, error) {
	var report models.Report
	err := s.DB.First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) GetReportsForUser(userID string, since time.Time) ([]models.Report, error) {
	var reports []models.Report
	err := s.DB.Where("reported_user_id = ? AND created_at > ?", userID, since).
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func banKey(userID string) string            { return "ban:" + userID }
func sessionEventsKey(id string) string      { return "session:events:" + id }
func queueKey(mode string) string            { return "random_queue:" + mode }
func queueEventsKey(mode string) string      { return "queue:events:" + mode }
func convEventsKey(convID string) string     { return "conv:events:" + convID }
func lastMessageKey(convID string) string    { return "lastmsg:" + convID }
func unreadKey(userID, convID string) string { return "unread:" + userID + ":" + convID }
