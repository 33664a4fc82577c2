package models

import (
	"time"
)

// Role is the author of a conversational turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one persisted turn of a user's conversation
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index:idx_messages_user_created,priority:1"`
	Role      Role      `json:"role" gorm:"type:varchar(16);not null;check:chk_messages_role,role IN ('user','assistant','system')"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_messages_user_created,priority:2"`
}

// TableName overrides the table name
func (Message) TableName() string {
	return "messages"
}

// Turn is the role/content pair exchanged with the completion provider
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// All lists every model owned by the conversation subsystem, in migration order
func All() []any {
	return []any{&User{}, &Message{}}
}
