// Package storage persists the demo reply pipeline's chat history and
// per-sender relationship state, adapted from the teacher's storage
// package (qq_id/group_id int64 keys) onto the gateway's string-openid
// identifiers — the gateway core itself persists nothing but
// SessionState (connection.SessionStore); this package backs the
// optional refpipeline reference implementation only.
package storage

import "time"

// ChatHistory is one turn of a conversation, keyed by account id and
// the sender's openid (plus an optional group openid for group chats).
type ChatHistory struct {
	ID          uint                   `gorm:"primaryKey" json:"id"`
	AccountID   string                 `gorm:"size:64;index;not null" json:"account_id"`
	SenderID    string                 `gorm:"size:64;index;not null" json:"sender_id"`
	GroupOpenid string                 `gorm:"size:64;index" json:"group_openid,omitempty"`
	Role        string                 `gorm:"size:20;not null" json:"role"` // user/assistant
	Content     string                 `gorm:"type:text;not null" json:"content"`
	Metadata    map[string]interface{} `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func (ChatHistory) TableName() string { return "chat_histories" }

// UserRelationship tracks one sender's progression through the demo
// pipeline's familiarity/trust/intimacy stages, per account and
// (optionally) per group. Adapted from the teacher's
// service/relationship package, which kept the same four scores keyed
// by numeric QQ id.
type UserRelationship struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	AccountID           string    `gorm:"size:64;index;not null" json:"account_id"`
	SenderID            string    `gorm:"size:64;index;not null" json:"sender_id"`
	GroupOpenid         string    `gorm:"size:64;index" json:"group_openid,omitempty"`
	Stage               int       `gorm:"not null;default:1" json:"stage"`
	Familiarity         float64   `json:"familiarity"`
	Trust               float64   `json:"trust"`
	Intimacy            float64   `json:"intimacy"`
	TotalMessages       int       `json:"total_messages"`
	AccumulatedCount    int       `json:"accumulated_count"`
	EvaluationThreshold int       `gorm:"not null;default:1" json:"evaluation_threshold"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (UserRelationship) TableName() string { return "user_relationships" }
