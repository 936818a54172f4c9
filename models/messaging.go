package models

import "time"

// Conversation a two-party conversation
//
// Exactly two participants. Archiving is symmetric - either participant may
// archive without affecting the other's view.
type Conversation struct {
	// ID conversation ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// ParticipantOne first participant user ID
	ParticipantOne string `json:"participant_one" gorm:"column:participant_one;not null;index" validate:"required"`
	// ParticipantTwo second participant user ID
	ParticipantTwo string `json:"participant_two" gorm:"column:participant_two;not null;index" validate:"required,nefield=ParticipantOne"`

	// LastMessageAt timestamp of the newest persisted message
	LastMessageAt *time.Time `json:"last_message_at,omitempty" gorm:"column:last_message_at;default:null"`

	// ParticipantOneArchived participant one's archive flag
	ParticipantOneArchived bool `json:"participant_one_archived" gorm:"column:participant_one_archived;not null;default:false"`
	// ParticipantTwoArchived participant two's archive flag
	ParticipantTwoArchived bool `json:"participant_two_archived" gorm:"column:participant_two_archived;not null;default:false"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

/*
OtherParticipant resolve the peer of a participant

	@param userID string - one participant
	@return the other participant, and whether userID is a participant at all
*/
func (c Conversation) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case c.ParticipantOne:
		return c.ParticipantTwo, true
	case c.ParticipantTwo:
		return c.ParticipantOne, true
	}
	return "", false
}

// Message one encrypted message row
//
// SequenceNumber is strictly increasing within a conversation and doubles as
// the pagination cursor. Deleted messages keep their row (soft delete) but
// their content is never served to clients.
type Message struct {
	// ID message ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// ConversationID the parent conversation
	ConversationID string `json:"conversation_id" gorm:"column:conversation_id;not null;index;uniqueIndex:uidx_conversation_sequence" validate:"required,uuid_rfc4122"`

	// SenderID the sending user
	SenderID string `json:"sender_id" gorm:"column:sender_id;not null" validate:"required"`

	// EncryptedContent the message ciphertext
	EncryptedContent []byte `json:"encrypted_content" gorm:"column:encrypted_content;not null" validate:"required"`
	// InitializationVector the encryption IV used. Not secret, but required
	// for decryption, so it is stored alongside the ciphertext.
	InitializationVector []byte `json:"initialization_vector" gorm:"column:initialization_vector;not null" validate:"required"`

	// SequenceNumber per-conversation monotonic counter, assigned at persist
	// time. The composite unique index with ConversationID makes the store
	// reject a sequence number claimed by a concurrent insert.
	SequenceNumber int64 `json:"sequence_number" gorm:"column:sequence_number;not null;uniqueIndex:uidx_conversation_sequence" validate:"gte=0"`

	// Deleted soft delete flag
	Deleted bool `json:"deleted" gorm:"column:deleted;not null;default:false"`
	// Edited whether the content has been replaced after send
	Edited bool `json:"edited" gorm:"column:edited;not null;default:false"`
	// EditedAt timestamp of the last edit
	EditedAt *time.Time `json:"edited_at,omitempty" gorm:"column:edited_at;default:null"`

	// DeliveredAt when the message reached the store
	DeliveredAt *time.Time `json:"delivered_at,omitempty" gorm:"column:delivered_at;default:null"`
	// ReadAt when the recipient marked the message read. Monotonic from
	// null to a timestamp, never reverted.
	ReadAt *time.Time `json:"read_at,omitempty" gorm:"column:read_at;default:null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
