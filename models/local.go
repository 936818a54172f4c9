package models

import (
	"fmt"
	"time"
)

// QueueStatusENUMType offline queue entry status ENUM type
type QueueStatusENUMType string

const (
	// QueueStatusPending the entry is waiting to be synced
	QueueStatusPending QueueStatusENUMType = "PENDING"
	// QueueStatusFailed the entry exhausted its retry budget
	QueueStatusFailed QueueStatusENUMType = "FAILED"
)

// QueuedMessage local-only staging record for a message that could not be
// delivered immediately
//
// The offline queue exclusively owns these rows. On successful sync the entry
// is promoted to a persisted Message and removed from the queue.
type QueuedMessage struct {
	// ID queue entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// ConversationID the target conversation
	ConversationID string `json:"conversation_id" gorm:"column:conversation_id;not null;index" validate:"required,uuid_rfc4122"`
	// SenderID the sending user
	SenderID string `json:"sender_id" gorm:"column:sender_id;not null" validate:"required"`

	// EncryptedContent the already-encrypted message content
	EncryptedContent []byte `json:"encrypted_content" gorm:"column:encrypted_content;not null" validate:"required"`
	// InitializationVector the encryption IV used
	InitializationVector []byte `json:"initialization_vector" gorm:"column:initialization_vector;not null" validate:"required"`

	// Status queue entry status
	Status QueueStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,queue_status"`
	// Synced whether the entry has been promoted to the remote store
	Synced bool `json:"synced" gorm:"column:synced;not null;default:false"`
	// Retries number of failed sync attempts so far
	Retries int `json:"retries" gorm:"column:retries;not null;default:0" validate:"gte=0"`
	// LastError detail of the most recent sync failure
	LastError string `json:"last_error,omitempty" gorm:"column:last_error"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new state
func (q *QueuedMessage) ValidateNextState(newState QueueStatusENUMType) error {
	statesWithTransitions := map[QueueStatusENUMType]map[QueueStatusENUMType]bool{
		QueueStatusPending: {
			QueueStatusPending: true,
			QueueStatusFailed:  true,
		},
		QueueStatusFailed: {
			QueueStatusFailed:  true,
			QueueStatusPending: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[q.Status]
	if !ok {
		return fmt.Errorf("queue entry can't transition out of state '%s'", q.Status)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("queue entry can't transition from '%s' to '%s'", q.Status, newState)
	}

	return nil
}

// CachedMessage local copy of a fetched message, served when offline
//
// Refreshed after every successful online history fetch, wiped on account
// erasure. Best effort only - offline pagination does not extend past what
// was cached.
type CachedMessage struct {
	// ID message ID (same as the remote row)
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// ConversationID the parent conversation
	ConversationID string `json:"conversation_id" gorm:"column:conversation_id;not null;index" validate:"required,uuid_rfc4122"`
	// SenderID the sending user
	SenderID string `json:"sender_id" gorm:"column:sender_id;not null" validate:"required"`

	// EncryptedContent the message ciphertext
	EncryptedContent []byte `json:"encrypted_content" gorm:"column:encrypted_content;not null" validate:"required"`
	// InitializationVector the encryption IV used
	InitializationVector []byte `json:"initialization_vector" gorm:"column:initialization_vector;not null" validate:"required"`

	// SequenceNumber the remote row's sequence number
	SequenceNumber int64 `json:"sequence_number" gorm:"column:sequence_number;not null;index" validate:"gte=0"`
	// Edited whether the remote row was edited when cached
	Edited bool `json:"edited" gorm:"column:edited;not null;default:false"`
	// ReadAt the remote row's read timestamp when cached
	ReadAt *time.Time `json:"read_at,omitempty" gorm:"column:read_at;default:null"`
	// MessageCreatedAt the remote row's creation timestamp
	MessageCreatedAt time.Time `json:"message_created_at" gorm:"column:message_created_at;not null"`

	// CachedAt when this copy was taken
	CachedAt time.Time `json:"cached_at" gorm:"column:cached_at;not null"`
}
