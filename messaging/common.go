// Package messaging - message send / fetch / lifecycle state machine
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/keys"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/network"
	"github.com/alwitt/confide/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// PlaceholderUndecryptable served in place of content that failed to decrypt
const PlaceholderUndecryptable = "[Message could not be decrypted]"

// PlaceholderKeysUnavailable served when no shared secret can be derived at all
const PlaceholderKeysUnavailable = "[Encryption keys unavailable - cannot decrypt]"

// DecryptedMessage a message as served to callers, content already decrypted
type DecryptedMessage struct {
	// ID message ID
	ID string `json:"id"`
	// ConversationID the parent conversation
	ConversationID string `json:"conversation_id"`
	// SenderID the sending user
	SenderID string `json:"sender_id"`
	// Content the decrypted content, or a placeholder when decryption failed
	Content string `json:"content"`
	// SequenceNumber per-conversation counter. Zero for queued placeholders.
	SequenceNumber int64 `json:"sequence_number"`
	// Edited whether the content was replaced after send
	Edited bool `json:"edited"`
	// EditedAt timestamp of the last edit
	EditedAt *time.Time `json:"edited_at,omitempty"`
	// DeliveredAt when the message reached the store
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	// ReadAt when the recipient marked the message read
	ReadAt *time.Time `json:"read_at,omitempty"`
	// CreatedAt message creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// DecryptFailed whether Content is a placeholder, so the UI can render a
	// distinct affordance
	DecryptFailed bool `json:"decrypt_failed"`
	// Queued whether the message is staged in the offline queue instead of
	// persisted remotely
	Queued bool `json:"queued"`
}

// HistoryPage one page of conversation history, oldest first
type HistoryPage struct {
	// Messages the page content in chronological order
	Messages []DecryptedMessage `json:"messages"`
	// HasMore whether older messages exist beyond this page
	HasMore bool `json:"has_more"`
	// FromCache whether the page was served from the local cache
	FromCache bool `json:"from_cache"`
}

/*
Service the message state machine: send / fetch-history / mark-read / edit /
delete / archive, composing key lookup, ECDH agreement, encryption, and remote
persistence, with offline fallback.
*/
type Service interface {
	/*
		SendMessage encrypt and deliver a message

		When the store is unreachable the encrypted message is staged in the
		offline queue instead; user content is never dropped.

			@param ctx context.Context - execution context
			@param conversationID string - the target conversation
			@param content string - the plaintext content
			@returns the persisted message, or a queued placeholder
	*/
	SendMessage(ctx context.Context, conversationID string, content string) (DecryptedMessage, error)

	/*
		GetMessageHistory fetch one page of conversation history

		The cursor is the smallest sequence number already seen (exclusive upper
		bound for the next page); nil means "most recent page". Per-message
		decryption failures degrade to placeholders, never fail the page.

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@param cursor *int64 - pagination cursor
			@param limit int - page size
			@returns the page, oldest first
	*/
	GetMessageHistory(
		ctx context.Context, conversationID string, cursor *int64, limit int,
	) (HistoryPage, error)

	/*
		MarkAsRead batch stamp read receipts

		Best effort - failures are logged and swallowed so read receipts can
		never block message viewing. Already-read messages are untouched.

			@param ctx context.Context - execution context
			@param messageIDs []string - the messages to mark
	*/
	MarkAsRead(ctx context.Context, messageIDs []string)

	/*
		EditMessage replace a message's content within the edit window

		Only the sender may edit, only while the message is not deleted, and
		only within the configured window from creation.

			@param ctx context.Context - execution context
			@param messageID string - the message
			@param content string - the new plaintext content
			@returns the updated message
	*/
	EditMessage(ctx context.Context, messageID string, content string) (DecryptedMessage, error)

	/*
		DeleteMessage soft delete a message within the delete window

		Only the sender may delete. The row is retained but its content is
		never again served as plaintext.

			@param ctx context.Context - execution context
			@param messageID string - the message
	*/
	DeleteMessage(ctx context.Context, messageID string) error

	/*
		ArchiveConversation set the caller's archive flag on a conversation

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
	*/
	ArchiveConversation(ctx context.Context, conversationID string) error

	/*
		UnarchiveConversation clear the caller's archive flag on a conversation

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
	*/
	UnarchiveConversation(ctx context.Context, conversationID string) error
}

// ServiceParams message service init parameters
type ServiceParams struct {
	// Persistence remote store client
	Persistence db.Client `validate:"required"`
	// LocalStore device-local store for the queue and cache
	LocalStore local.Store `validate:"required"`
	// Keys key lifecycle manager
	Keys keys.Manager `validate:"required"`
	// Engine cryptography engine
	Engine encryption.Engine `validate:"required"`
	// Session hosted auth session boundary
	Session session.Provider `validate:"required"`
	// Monitor connectivity monitor
	Monitor network.Monitor `validate:"required"`
	// MinMessageLength minimum trimmed content length
	MinMessageLength int `validate:"gte=1"`
	// MaxMessageLength maximum trimmed content length
	MaxMessageLength int `validate:"required,gtefield=MinMessageLength"`
	// EditWindow how long after creation a message may be edited
	EditWindow time.Duration `validate:"required"`
	// DeleteWindow how long after creation a message may be deleted. Typically
	// longer than the edit window; the two are configured independently.
	DeleteWindow time.Duration `validate:"required"`
}

// DefaultServiceParams message policy used in production. Store and crypto
// handles must still be filled in.
func DefaultServiceParams() ServiceParams {
	return ServiceParams{
		MinMessageLength: 1,
		MaxMessageLength: 5000,
		EditWindow:       15 * time.Minute,
		DeleteWindow:     time.Hour,
	}
}

// messageService implements Service
type messageService struct {
	goutils.Component

	persistence db.Client
	localStore  local.Store
	keys        keys.Manager
	engine      encryption.Engine
	session     session.Provider
	monitor     network.Monitor
	validator   *validator.Validate

	minLen       int
	maxLen       int
	editWindow   time.Duration
	deleteWindow time.Duration

	// nowFn overridable clock, for window tests
	nowFn func() time.Time
}

/*
NewService define new message service

	@param params ServiceParams - service parameters
	@returns service instance
*/
func NewService(params ServiceParams) (Service, error) {
	logTags := log.Fields{"module": "messaging", "component": "message-service"}

	instance := &messageService{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:  params.Persistence,
		localStore:   params.LocalStore,
		keys:         params.Keys,
		engine:       params.Engine,
		session:      params.Session,
		monitor:      params.Monitor,
		validator:    validator.New(),
		minLen:       params.MinMessageLength,
		maxLen:       params.MaxMessageLength,
		editWindow:   params.EditWindow,
		deleteWindow: params.DeleteWindow,
		nowFn:        time.Now,
	}

	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid service init parameters [%w]", err)
	}

	return instance, nil
}

// requireUser resolve the authenticated caller
func (s *messageService) requireUser(ctx context.Context) (string, error) {
	userID, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return "", cerrors.Authentication(fmt.Sprintf("session lookup failed: %v", err))
	}
	if userID == "" {
		return "", cerrors.Authentication("no active session")
	}
	return userID, nil
}

// requireKeys resolve the caller's in-memory key pair
func (s *messageService) requireKeys() (*models.DerivedKeyPair, error) {
	pair := s.keys.GetCurrentKeys()
	if pair == nil {
		return nil, cerrors.EncryptionLocked("encryption keys not in memory; re-authenticate")
	}
	return pair, nil
}

// secretForPeer derive the symmetric key for traffic with one peer
//
// A nil secret with nil error means the peer has no published key.
func (s *messageService) secretForPeer(
	ctx context.Context, pair *models.DerivedKeyPair, peerID string,
) (encryption.SymmetricKey, error) {
	peerKey, err := s.keys.GetUserPublicKey(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if peerKey == nil {
		return nil, nil
	}
	return s.engine.DeriveSharedSecret(ctx, pair.PrivateKey, *peerKey)
}

// fetchConversationForUser load a conversation and resolve the caller's peer
func (s *messageService) fetchConversationForUser(
	ctx context.Context, conversationID string, userID string,
) (models.Conversation, string, error) {
	var conv models.Conversation
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			conv, err = dbClient.GetConversation(dbCtx, conversationID)
			return err
		},
	); dbErr != nil {
		return models.Conversation{}, "", cerrors.Connection(
			fmt.Sprintf("failed to fetch conversation %s", conversationID), dbErr,
		)
	}

	peerID, isParticipant := conv.OtherParticipant(userID)
	if !isParticipant {
		return models.Conversation{}, "", cerrors.Validation(
			"conversation", "caller is not a participant of this conversation",
		)
	}

	return conv, peerID, nil
}
