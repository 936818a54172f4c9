// Package db - remote relational store client
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/confide/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// MessageQueryFilter message history query filter conditions
type MessageQueryFilter struct {
	// BeforeSequence exclusive upper bound on sequence number. Nil means
	// "start from the newest".
	BeforeSequence *int64
	// Limit maximum rows returned
	Limit *int
	// IncludeDeleted whether soft-deleted rows are returned
	IncludeDeleted bool
}

// ConversationQueryFilter conversation listing filter conditions
type ConversationQueryFilter struct {
	// IncludeArchived whether conversations the user archived are returned
	IncludeArchived bool
}

// Database the database handle for interacting with the remote store
type Database interface {
	// ------------------------------------------------------------------------------------
	// User encryption keys

	/*
		RecordUserKey publish a new key record for a user

			@param ctx context.Context - execution context
			@param userID string - the owning user
			@param publicKey models.PublicKeyJWK - the public key component
			@param salt string - base64 encoded salt of this key epoch
			@returns the key record
	*/
	RecordUserKey(
		ctx context.Context, userID string, publicKey models.PublicKeyJWK, salt string,
	) (models.UserKeyRecord, error)

	/*
		GetCurrentUserKey fetch a user's latest non-revoked key record

			@param ctx context.Context - execution context
			@param userID string - the user
			@returns the record, or nil when the user has no non-revoked record
	*/
	GetCurrentUserKey(ctx context.Context, userID string) (*models.UserKeyRecord, error)

	/*
		ListUserKeys list a user's key records

			@param ctx context.Context - execution context
			@param userID string - the user
			@param includeRevoked bool - whether revoked records are returned
			@return records, newest first
	*/
	ListUserKeys(
		ctx context.Context, userID string, includeRevoked bool,
	) ([]models.UserKeyRecord, error)

	/*
		RevokeUserKeys mark all of a user's non-revoked key records revoked

			@param ctx context.Context - execution context
			@param userID string - the user
			@return number of records revoked
	*/
	RevokeUserKeys(ctx context.Context, userID string) (int64, error)

	/*
		DeleteUserKeys physically delete all of a user's key records

			@param ctx context.Context - execution context
			@param userID string - the user
	*/
	DeleteUserKeys(ctx context.Context, userID string) error

	// ------------------------------------------------------------------------------------
	// Conversations

	/*
		CreateConversation define a new two-party conversation

			@param ctx context.Context - execution context
			@param participantOne string - first participant
			@param participantTwo string - second participant
			@returns the conversation
	*/
	CreateConversation(
		ctx context.Context, participantOne string, participantTwo string,
	) (models.Conversation, error)

	/*
		GetConversation fetch a conversation by ID

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@returns the conversation
	*/
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)

	/*
		ListConversationsForUser list conversations a user participates in

			@param ctx context.Context - execution context
			@param userID string - the user
			@param filters ConversationQueryFilter - listing filter
			@return conversations, most recently active first
	*/
	ListConversationsForUser(
		ctx context.Context, userID string, filters ConversationQueryFilter,
	) ([]models.Conversation, error)

	/*
		TouchConversation update a conversation's last message timestamp

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@param timestamp time.Time - the new last message timestamp
	*/
	TouchConversation(ctx context.Context, conversationID string, timestamp time.Time) error

	/*
		SetConversationArchived toggle one participant's archive flag

		Only the caller's own flag changes; the peer's view is unaffected.

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@param userID string - the participant whose flag to set
			@param archived bool - the new flag value
	*/
	SetConversationArchived(
		ctx context.Context, conversationID string, userID string, archived bool,
	) error

	// ------------------------------------------------------------------------------------
	// Messages

	/*
		InsertMessage persist a new message

		The per-conversation sequence number is assigned here, inside the active
		transaction, so concurrent sends cannot obtain the same number. Delivery
		is stamped at insert time - "delivered" means the row reached the store.

			@param ctx context.Context - execution context
			@param conversationID string - the target conversation
			@param senderID string - the sending user
			@param content []byte - the message ciphertext
			@param iv []byte - the encryption IV
			@param timestamp time.Time - creation and delivery timestamp
			@returns the persisted message
	*/
	InsertMessage(
		ctx context.Context,
		conversationID string,
		senderID string,
		content []byte,
		iv []byte,
		timestamp time.Time,
	) (models.Message, error)

	/*
		GetMessage fetch a message by ID

			@param ctx context.Context - execution context
			@param messageID string - the message
			@returns the message
	*/
	GetMessage(ctx context.Context, messageID string) (models.Message, error)

	/*
		ListMessages list messages of a conversation, newest first

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@param filters MessageQueryFilter - listing filter
			@return messages in descending sequence order
	*/
	ListMessages(
		ctx context.Context, conversationID string, filters MessageQueryFilter,
	) ([]models.Message, error)

	/*
		MaxSequenceNumber report the highest sequence number in a conversation

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@return the highest assigned sequence number, 0 when empty
	*/
	MaxSequenceNumber(ctx context.Context, conversationID string) (int64, error)

	/*
		MarkMessagesRead batch stamp read receipts

		Only rows with a null read_at are touched, so re-marking already-read
		messages is a no-op.

			@param ctx context.Context - execution context
			@param messageIDs []string - the messages to mark
			@param timestamp time.Time - the read timestamp
			@return number of rows updated
	*/
	MarkMessagesRead(
		ctx context.Context, messageIDs []string, timestamp time.Time,
	) (int64, error)

	/*
		UpdateMessageContent replace a message's ciphertext after an edit

			@param ctx context.Context - execution context
			@param messageID string - the message
			@param content []byte - the new ciphertext
			@param iv []byte - the new encryption IV
			@param editedAt time.Time - the edit timestamp
	*/
	UpdateMessageContent(
		ctx context.Context, messageID string, content []byte, iv []byte, editedAt time.Time,
	) error

	/*
		MarkMessageDeleted soft delete a message

		The row is retained but its content must never again be served as
		plaintext to any reader.

			@param ctx context.Context - execution context
			@param messageID string - the message
	*/
	MarkMessageDeleted(ctx context.Context, messageID string) error

	// ------------------------------------------------------------------------------------
	// User profiles

	/*
		CreateUserProfile define a new user profile

			@param ctx context.Context - execution context
			@param userID string - the user (hosted auth subject)
			@param displayName string - user facing name
			@returns the profile
	*/
	CreateUserProfile(ctx context.Context, userID string, displayName string) (models.UserProfile, error)

	/*
		GetUserProfile fetch a user profile

			@param ctx context.Context - execution context
			@param userID string - the user
			@returns the profile
	*/
	GetUserProfile(ctx context.Context, userID string) (models.UserProfile, error)

	/*
		DeleteUserProfile delete a user profile

		Deletion cascades at the storage layer to the user's keys, conversations,
		messages, and connections.

			@param ctx context.Context - execution context
			@param userID string - the user
	*/
	DeleteUserProfile(ctx context.Context, userID string) error

	// ------------------------------------------------------------------------------------
	// User connections

	/*
		CreateUserConnection record a relationship between two users

			@param ctx context.Context - execution context
			@param userID string - the owning user
			@param peerID string - the connected user
			@param status models.ConnectionStatusENUMType - connection status
			@returns the connection
	*/
	CreateUserConnection(
		ctx context.Context, userID string, peerID string, status models.ConnectionStatusENUMType,
	) (models.UserConnection, error)

	/*
		ListUserConnections list a user's connections

			@param ctx context.Context - execution context
			@param userID string - the user
			@return connections, newest first
	*/
	ListUserConnections(ctx context.Context, userID string) ([]models.UserConnection, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "confide", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}
