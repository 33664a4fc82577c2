package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Known channel discriminators
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

// User is the internal identity behind one channel address.
// (Channel, ExternalID) is unique; rows are never updated.
type User struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Channel    string    `json:"channel" gorm:"type:varchar(32);not null;uniqueIndex:idx_users_channel_external"`
	ExternalID string    `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_users_channel_external"`
	CreatedAt  time.Time `json:"created_at"`
	Messages   []Message `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a UUID when the caller did not
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}
