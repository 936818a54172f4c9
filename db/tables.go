package db

import "github.com/alwitt/confide/models"

// --------------------------------------------------------------------------------------
// User profiles

// UserProfileDBEntry user profile DB entry
type UserProfileDBEntry struct {
	models.UserProfile
}

// TableName hard code table name
func (UserProfileDBEntry) TableName() string {
	return "user_profiles"
}

// --------------------------------------------------------------------------------------
// User encryption keys

// UserKeyDBEntry user encryption key DB entry
type UserKeyDBEntry struct {
	models.UserKeyRecord
	User UserProfileDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
}

// TableName hard code table name
func (UserKeyDBEntry) TableName() string {
	return "user_encryption_keys"
}

// --------------------------------------------------------------------------------------
// Conversations

// ConversationDBEntry conversation DB entry
type ConversationDBEntry struct {
	models.Conversation
	One UserProfileDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:ParticipantOne" validate:"-"`
	Two UserProfileDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:ParticipantTwo" validate:"-"`
}

// TableName hard code table name
func (ConversationDBEntry) TableName() string {
	return "conversations"
}

// --------------------------------------------------------------------------------------
// Messages

// MessageDBEntry message DB entry
type MessageDBEntry struct {
	models.Message
	Conversation ConversationDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationID" validate:"-"`
}

// TableName hard code table name
func (MessageDBEntry) TableName() string {
	return "messages"
}

// --------------------------------------------------------------------------------------
// User connections

// UserConnectionDBEntry user connection DB entry
type UserConnectionDBEntry struct {
	models.UserConnection
	User UserProfileDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
}

// TableName hard code table name
func (UserConnectionDBEntry) TableName() string {
	return "user_connections"
}
