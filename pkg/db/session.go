// Database models for chat sessions
package db

import "time"

// Session represents a persisted conversation thread. Rows are immutable
// after creation except for cascading delete.
type Session struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Title     string    `json:"title" gorm:"size:200;default:'New Chat'"`
	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// DefaultSessionTitle is used when no user message is available to derive
// a title from.
const DefaultSessionTitle = "New Chat"

// TitleMaxLen is how much of the first user message becomes the title.
const TitleMaxLen = 30
