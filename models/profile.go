package models

import "time"

// ConnectionStatusENUMType user connection status ENUM type
type ConnectionStatusENUMType string

const (
	// ConnectionStatusPending connection request awaiting acceptance
	ConnectionStatusPending ConnectionStatusENUMType = "PENDING"
	// ConnectionStatusAccepted connection accepted by the peer
	ConnectionStatusAccepted ConnectionStatusENUMType = "ACCEPTED"
	// ConnectionStatusBlocked peer blocked
	ConnectionStatusBlocked ConnectionStatusENUMType = "BLOCKED"
)

// UserProfile the remote profile row anchoring a user's data
//
// Deleting this row cascades at the storage layer to the user's keys,
// conversations, messages, and connections.
type UserProfile struct {
	// ID user ID (matches the hosted auth subject)
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// DisplayName user facing name
	DisplayName string `json:"display_name" gorm:"column:display_name;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// UserConnection a relationship between two users
type UserConnection struct {
	// ID connection ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// UserID the owning user
	UserID string `json:"user_id" gorm:"column:user_id;not null;index" validate:"required"`
	// PeerID the connected user
	PeerID string `json:"peer_id" gorm:"column:peer_id;not null" validate:"required,nefield=UserID"`

	// Status connection status
	Status ConnectionStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,connection_status"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
