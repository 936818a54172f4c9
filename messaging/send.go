package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

/*
SendMessage encrypt and deliver a message

	@param ctx context.Context - execution context
	@param conversationID string - the target conversation
	@param content string - the plaintext content
	@returns the persisted message, or a queued placeholder
*/
func (s *messageService) SendMessage(
	ctx context.Context, conversationID string, content string,
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

	_, peerID, err := s.fetchConversationForUser(ctx, conversationID, userID)
	if err != nil {
		return DecryptedMessage{}, err
	}

	// Hard policy: without a published recipient key there is no way to
	// encrypt for them
	secret, err := s.secretForPeer(ctx, pair, peerID)
	if err != nil {
		return DecryptedMessage{}, err
	}
	if secret == nil {
		return DecryptedMessage{}, cerrors.Validation(
			"recipient", "recipient has not set up encryption keys",
		)
	}

	encrypted, err := s.engine.EncryptMessage(ctx, []byte(trimmed), secret)
	if err != nil {
		return DecryptedMessage{}, err
	}

	if !s.monitor.Online() {
		return s.queueSend(ctx, conversationID, userID, trimmed, encrypted)
	}

	now := s.nowFn()
	var persisted models.Message
	dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			persisted, err = dbClient.InsertMessage(
				dbCtx, conversationID, userID,
				encrypted.CipherText, encrypted.IV, now,
			)
			if err != nil {
				return err
			}
			return dbClient.TouchConversation(dbCtx, conversationID, now)
		},
	)
	if dbErr != nil {
		// Sends never drop content; a failed insert degrades to queuing
		log.WithFields(s.LogTags).
			WithError(dbErr).
			WithField("conversation", conversationID).
			Warn("Message insert failed, staging in offline queue")
		return s.queueSend(ctx, conversationID, userID, trimmed, encrypted)
	}

	// Keep the offline cache warm with the just-sent message. Best effort.
	if err := s.localStore.CacheMessages(ctx, []models.Message{persisted}); err != nil {
		log.WithFields(s.LogTags).WithError(err).Debug("Failed to cache sent message")
	}

	result := decryptedFromMessage(persisted, trimmed, false)
	return result, nil
}

// queueSend stage an encrypted message in the offline queue
func (s *messageService) queueSend(
	ctx context.Context,
	conversationID string,
	userID string,
	plainText string,
	encrypted encryption.EncryptedData,
) (DecryptedMessage, error) {
	entry, err := s.localStore.QueueMessage(
		ctx, conversationID, userID, encrypted.CipherText, encrypted.IV,
	)
	if err != nil {
		return DecryptedMessage{}, fmt.Errorf("failed to stage message for sync [%w]", err)
	}

	// Synthetic unsent placeholder: no sequence number, no delivery timestamps
	return DecryptedMessage{
		ID:             entry.ID,
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        plainText,
		SequenceNumber: 0,
		CreatedAt:      entry.CreatedAt,
		Queued:         true,
	}, nil
}

// decryptedFromMessage project a persisted row onto the caller-facing shape
func decryptedFromMessage(msg models.Message, content string, decryptFailed bool) DecryptedMessage {
	return DecryptedMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        content,
		SequenceNumber: msg.SequenceNumber,
		Edited:         msg.Edited,
		EditedAt:       msg.EditedAt,
		DeliveredAt:    msg.DeliveredAt,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
		DecryptFailed:  decryptFailed,
	}
}
