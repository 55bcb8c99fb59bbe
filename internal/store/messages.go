package store

import (
	"errors"
	"log"

	"randolink/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureConversation creates the conversation record if it does not exist
// yet. Existing records are left untouched, so create-or-get by the same pair
// of users is stable.
func (s *Service) EnsureConversation(conv *models.Conversation) error {
	return s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error
}

func (s *Service) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.Where("conversation_id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Service) SaveMessage(msg *models.Message) error {
	if err := s.DB.Create(msg).Error; err != nil {
		log.Printf("store: failed to save message for conversation %s: %v", msg.ConversationID, err)
		return err
	}
	return nil
}

func (s *Service) GetMessage(convID, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.Where("conversation_id = ? AND message_id = ?", convID, messageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) DeleteMessage(convID, messageID string) error {
	return s.DB.Where("conversation_id = ? AND message_id = ?", convID, messageID).
		Delete(&models.Message{}).Error
}

// ListMessages returns the full message log for a conversation ordered by
// send time, ties broken by message id.
func (s *Service) ListMessages(convID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.DB.Where("conversation_id = ?", convID).
		Order("sent_at asc, message_id asc").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
