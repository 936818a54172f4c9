package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/confide/db"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

/*
MarkAsRead batch stamp read receipts

	@param ctx context.Context - execution context
	@param messageIDs []string - the messages to mark
*/
func (s *messageService) MarkAsRead(ctx context.Context, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}

	if _, err := s.requireUser(ctx); err != nil {
		log.WithFields(s.LogTags).WithError(err).Debug("Read receipt skipped, no session")
		return
	}

	now := s.nowFn()
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			updated, err := dbClient.MarkMessagesRead(dbCtx, messageIDs, now)
			if err != nil {
				return err
			}
			log.WithFields(s.LogTags).
				WithField("requested", len(messageIDs)).
				WithField("updated", updated).
				Debug("Stamped read receipts")
			return nil
		},
	); dbErr != nil {
		// Read receipts are best effort; they must never block viewing
		log.WithFields(s.LogTags).WithError(dbErr).Warn("Failed to stamp read receipts")
	}
}

// fetchOwnMessage load a message and verify the caller is its sender
func (s *messageService) fetchOwnMessage(
	ctx context.Context, messageID string, userID string,
) (models.Message, error) {
	var msg models.Message
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			msg, err = dbClient.GetMessage(dbCtx, messageID)
			return err
		},
	); dbErr != nil {
		return models.Message{}, cerrors.Connection(
			fmt.Sprintf("failed to fetch message %s", messageID), dbErr,
		)
	}

	if msg.SenderID != userID {
		return models.Message{}, cerrors.Validation(
			"message", "only the sender may modify a message",
		)
	}
	if msg.Deleted {
		return models.Message{}, cerrors.Validation("message", "message is already deleted")
	}

	return msg, nil
}

/*
EditMessage replace a message's content within the edit window

	@param ctx context.Context - execution context
	@param messageID string - the message
	@param content string - the new plaintext content
	@returns the updated message
*/
func (s *messageService) EditMessage(
	ctx context.Context, messageID string, content string,
) (DecryptedMessage, error) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < s.minLen {
		return DecryptedMessage{}, cerrors.Validation(
			"content", fmt.Sprintf("message must be at least %d characters", s.minLen),
		)
	}
	if len(trimmed) > s.maxLen {
		return DecryptedMessage{}, cerrors.Validation(
			"content", fmt.Sprintf("message must be at most %d characters", s.maxLen),
		)
	}

	userID, err := s.requireUser(ctx)
	if err != nil {
		return DecryptedMessage{}, err
	}
	pair, err := s.requireKeys()
	if err != nil {
		return DecryptedMessage{}, err
	}

	msg, err := s.fetchOwnMessage(ctx, messageID, userID)
	if err != nil {
		return DecryptedMessage{}, err
	}

	now := s.nowFn()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return DecryptedMessage{}, cerrors.Validation("message", "edit window has elapsed")
	}

	_, peerID, err := s.fetchConversationForUser(ctx, msg.ConversationID, userID)
	if err != nil {
		return DecryptedMessage{}, err
	}

	secret, err := s.secretForPeer(ctx, pair, peerID)
	if err != nil {
		return DecryptedMessage{}, err
	}
	if secret == nil {
		return DecryptedMessage{}, cerrors.Validation(
			"recipient", "recipient has not set up encryption keys",
		)
	}

	// An edit re-runs the full encrypt pipeline: new ciphertext, new IV
	encrypted, err := s.engine.EncryptMessage(ctx, []byte(trimmed), secret)
	if err != nil {
		return DecryptedMessage{}, err
	}

	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.UpdateMessageContent(
				dbCtx, messageID, encrypted.CipherText, encrypted.IV, now,
			); err != nil {
				return err
			}
			var fetchErr error
			msg, fetchErr = dbClient.GetMessage(dbCtx, messageID)
			return fetchErr
		},
	); dbErr != nil {
		return DecryptedMessage{}, cerrors.Connection(
			fmt.Sprintf("failed to update message %s", messageID), dbErr,
		)
	}

	// Refresh the cached copy. Best effort.
	if err := s.localStore.CacheMessages(ctx, []models.Message{msg}); err != nil {
		log.WithFields(s.LogTags).WithError(err).Debug("Failed to refresh cached message")
	}

	return decryptedFromMessage(msg, trimmed, false), nil
}

/*
DeleteMessage soft delete a message within the delete window

	@param ctx context.Context - execution context
	@param messageID string - the message
*/
func (s *messageService) DeleteMessage(ctx context.Context, messageID string) error {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return err
	}

	msg, err := s.fetchOwnMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}

	now := s.nowFn()
	if now.Sub(msg.CreatedAt) > s.deleteWindow {
		return cerrors.Validation("message", "delete window has elapsed")
	}

	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.MarkMessageDeleted(dbCtx, messageID)
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to delete message %s", messageID), dbErr,
		)
	}

	// Deleted content must not linger in the offline cache. Best effort.
	if err := s.localStore.DropCachedMessage(ctx, messageID); err != nil {
		log.WithFields(s.LogTags).WithError(err).Debug("Failed to drop cached message")
	}

	return nil
}

// setArchiveFlag toggle the caller's archive flag on a conversation
func (s *messageService) setArchiveFlag(
	ctx context.Context, conversationID string, archived bool,
) error {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return err
	}

	// Resolve participation first so non-participants get a policy error,
	// not a store error
	if _, _, err := s.fetchConversationForUser(ctx, conversationID, userID); err != nil {
		return err
	}

	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.SetConversationArchived(dbCtx, conversationID, userID, archived)
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to set archive flag on conversation %s", conversationID), dbErr,
		)
	}

	return nil
}

/*
ArchiveConversation set the caller's archive flag on a conversation

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
*/
func (s *messageService) ArchiveConversation(ctx context.Context, conversationID string) error {
	return s.setArchiveFlag(ctx, conversationID, true)
}

/*
UnarchiveConversation clear the caller's archive flag on a conversation

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
*/
func (s *messageService) UnarchiveConversation(ctx context.Context, conversationID string) error {
	return s.setArchiveFlag(ctx, conversationID, false)
}
