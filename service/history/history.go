// Package history persists and replays chat turns for the demo reply
// pipeline, adapted from the teacher's service/history package onto
// string account/sender identifiers instead of numeric QQ ids.
package history

import (
	"time"

	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"

	"github.com/qqbot-core/gateway/storage"
)

// Service reads and writes ChatHistory rows scoped to one conversation
// (accountID + senderID, optionally narrowed further by groupOpenid).
type Service struct {
	db *gorm.DB
}

// New builds a Service over db.
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) scope(accountID, senderID, groupOpenid string) *gorm.DB {
	q := s.db.Where("account_id = ? AND sender_id = ?", accountID, senderID)
	if groupOpenid != "" {
		return q.Where("group_openid = ?", groupOpenid)
	}
	return q.Where("group_openid = ''")
}

// SaveMessage appends one turn to the conversation's history.
func (s *Service) SaveMessage(accountID, senderID, groupOpenid, role, content string) error {
	return s.db.Create(&storage.ChatHistory{
		AccountID:   accountID,
		SenderID:    senderID,
		GroupOpenid: groupOpenid,
		Role:        role,
		Content:     content,
	}).Error
}

// RecentHistory returns up to limit most recent turns, oldest first, as
// OpenAI chat messages ready to prepend to a new request.
func (s *Service) RecentHistory(accountID, senderID, groupOpenid string, limit int) ([]openai.ChatCompletionMessage, error) {
	var rows []storage.ChatHistory
	if err := s.scope(accountID, senderID, groupOpenid).
		Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		messages = append(messages, openai.ChatCompletionMessage{Role: rows[i].Role, Content: rows[i].Content})
	}
	return messages, nil
}

// ClearConversation deletes every turn in one conversation.
func (s *Service) ClearConversation(accountID, senderID, groupOpenid string) error {
	return s.scope(accountID, senderID, groupOpenid).Delete(&storage.ChatHistory{}).Error
}

// PruneOlderThan deletes every turn older than the given age, across
// every account/sender, to keep the table bounded over time.
func (s *Service) PruneOlderThan(age time.Duration) error {
	return s.db.Where("created_at < ?", time.Now().Add(-age)).Delete(&storage.ChatHistory{}).Error
}
