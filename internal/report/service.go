// Package report handles user reports against session partners: reputation
// penalties, escalating temporary bans, and session outcome scoring.
package report

import (
	"time"

	"randolink/backend/internal/analysis"
	"randolink/backend/internal/config"
	"randolink/backend/internal/models"
	"randolink/backend/internal/store"
)

// Service applies moderation policy on top of the store.
type Service struct {
	Store store.Storage
}

// NewService creates a report service.
func NewService(s store.Storage) *Service {
	return &Service{Store: s}
}

// HandleReport records a report, applies its reputation penalty and checks
// whether the reported user crossed a ban threshold.
func (s *Service) HandleReport(report *models.Report) error {
	if err := s.Store.SaveReport(report); err != nil {
		return err
	}

	weight := analysis.GetWeight(report.Category)
	if err := s.Store.UpdateUserReputation(report.ReportedUserID, -weight); err != nil {
		return err
	}

	return s.CheckForBan(report.ReportedUserID)
}

// CheckForBan bans a user whose reputation fell below the threshold or who
// collected too many reports inside the frequency window.
func (s *Service) CheckForBan(userID string) error {
	user, err := s.Store.GetUserByID(userID)
	if err != nil {
		return err
	}

	// Threshold ban
	if user.ReputationScore < config.BanThresholdReputation {
		return s.applyBan(user)
	}

	// Frequency ban
	reports, err := s.Store.GetReportsForUser(userID, time.Now().Add(-config.BanFrequencyWindow))
	if err != nil {
		return err
	}
	if len(reports) > config.BanThresholdFrequency {
		return s.applyBan(user)
	}

	return nil
}

// RecordSessionOutcome adjusts reputation after a session ends. A long
// conversation with real exchange earns a small reward; bailing out almost
// immediately costs one.
func (s *Service) RecordSessionOutcome(userID string, duration time.Duration, messages int) error {
	switch {
	case duration >= config.SuccessfulDialogDuration && messages >= config.SuccessfulDialogMessages:
		return s.Store.UpdateUserReputation(userID, config.SuccessfulDialogReward)
	case duration < config.EarlyDisconnectDuration && messages < config.EarlyDisconnectMessages:
		return s.Store.UpdateUserReputation(userID, config.EarlyDisconnectPenalty)
	}
	return nil
}

// ScoreSession applies the outcome of a finished session to both
// participants: duration from the session record, per-user message counts
// from the session's conversation.
func (s *Service) ScoreSession(sessionID string) error {
	sess, err := s.Store.GetSession(sessionID)
	if err != nil {
		return err
	}

	duration := time.Since(sess.CreatedAt)
	if sess.EndedAt != nil {
		duration = sess.EndedAt.Sub(sess.CreatedAt)
	}

	messages, err := s.Store.ListMessages(sessionID)
	if err != nil {
		return err
	}
	sent := make(map[string]int, 2)
	for _, msg := range messages {
		sent[msg.SenderID]++
	}

	for _, userID := range sess.Participants() {
		if err := s.RecordSessionOutcome(userID, duration, sent[userID]); err != nil {
			return err
		}
	}
	return nil
}

// applyBan escalates by recency of the previous ban: a repeat inside 7 days
// is level 2, inside 30 days level 3, otherwise it starts over at level 1.
func (s *Service) applyBan(user *models.User) error {
	lastBanDate, err := s.Store.GetLastBanDate(user.ID)
	if err != nil {
		return err
	}

	level := 1
	if lastBanDate > 0 {
		if time.Since(time.Unix(lastBanDate, 0)) < 7*24*time.Hour {
			level = 2
		} else if time.Since(time.Unix(lastBanDate, 0)) < 30*24*time.Hour {
			level = 3
		}
	}

	duration := getBanDuration(level)
	until := time.Now().Add(duration)
	user.IsBlocked = true
	user.BlockEndTime = until.Unix()
	user.BlockLevel = level
	user.LastBanDate = time.Now().Unix()
	if err := s.Store.UpdateUser(user); err != nil {
		return err
	}
	return s.Store.SetBanMarker(user.ID, until)
}

func getBanDuration(level int) time.Duration {
	switch level {
	case 1:
		return config.BanLevel1Duration
	case 2:
		return config.BanLevel2Duration
	default:
		return config.BanLevel3Duration
	}
}
