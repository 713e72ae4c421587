// Database models for chat messages
package db

import "time"

// Message roles. The system role is synthesized per request and never
// persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents one persisted chat message. Ordering by ID within a
// session reconstructs the conversation exactly as it was submitted and
// received.
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID uint      `json:"session_id" gorm:"index;not null"`
	Role      string    `json:"role" gorm:"size:20;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

func (*Message) TableName() string {
	return "messages"
}
