package messaging

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

/*
GetMessageHistory fetch one page of conversation history

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@param cursor *int64 - pagination cursor
	@param limit int - page size
	@returns the page, oldest first
*/
func (s *messageService) GetMessageHistory(
	ctx context.Context, conversationID string, cursor *int64, limit int,
) (HistoryPage, error) {
	if limit <= 0 {
		return HistoryPage{}, cerrors.Validation("limit", "page size must be positive")
	}

	userID, err := s.requireUser(ctx)
	if err != nil {
		return HistoryPage{}, err
	}
	pair, err := s.requireKeys()
	if err != nil {
		return HistoryPage{}, err
	}

	if !s.monitor.Online() {
		return s.historyFromCache(ctx, pair, conversationID, userID, cursor, limit)
	}

	_, peerID, err := s.fetchConversationForUser(ctx, conversationID, userID)
	if err != nil {
		if cerrors.IsConnection(err) {
			// The monitor was wrong about connectivity; degrade to the cache
			log.WithFields(s.LogTags).
				WithError(err).
				WithField("conversation", conversationID).
				Warn("History fetch unreachable, serving local cache")
			return s.historyFromCache(ctx, pair, conversationID, userID, cursor, limit)
		}
		return HistoryPage{}, err
	}

	secret, err := s.secretForPeer(ctx, pair, peerID)
	if err != nil {
		return HistoryPage{}, err
	}

	// Fetch one row beyond the page to learn has_more without a second
	// round trip
	probeLimit := limit + 1
	var rows []models.Message
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			rows, err = dbClient.ListMessages(dbCtx, conversationID, db.MessageQueryFilter{
				BeforeSequence: cursor,
				Limit:          &probeLimit,
			})
			return err
		},
	); dbErr != nil {
		log.WithFields(s.LogTags).
			WithError(dbErr).
			WithField("conversation", conversationID).
			Warn("History fetch failed, serving local cache")
		return s.historyFromCache(ctx, pair, conversationID, userID, cursor, limit)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	// Refresh the offline cache with this page. Best effort.
	if err := s.localStore.CacheMessages(ctx, rows); err != nil {
		log.WithFields(s.LogTags).WithError(err).Debug("Failed to refresh message cache")
	}

	page := HistoryPage{Messages: make([]DecryptedMessage, 0, len(rows)), HasMore: hasMore}
	// Rows arrive newest first for pagination; callers get chronological order
	for idx := len(rows) - 1; idx >= 0; idx-- {
		page.Messages = append(page.Messages, s.decryptRow(ctx, rows[idx], secret))
	}

	return page, nil
}

// historyFromCache serve a best-effort page from the local message cache
func (s *messageService) historyFromCache(
	ctx context.Context,
	pair *models.DerivedKeyPair,
	conversationID string,
	userID string,
	cursor *int64,
	limit int,
) (HistoryPage, error) {
	cached, err := s.localStore.GetCachedMessages(ctx, conversationID, 0)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("failed to read local message cache [%w]", err)
	}

	// The cached copies do not record the peer, so resolve it from the rows
	// themselves; without remote access the conversation row may be
	// unavailable
	secret := encryption.SymmetricKey(nil)
	for _, row := range cached {
		if row.SenderID != userID {
			if derived, err := s.secretForPeer(ctx, pair, row.SenderID); err == nil {
				secret = derived
			}
			break
		}
	}

	// Apply the cursor in memory; pagination does not extend past the cache
	selected := make([]models.CachedMessage, 0, limit)
	for _, row := range cached {
		if cursor != nil && row.SequenceNumber >= *cursor {
			continue
		}
		selected = append(selected, row)
		if len(selected) == limit {
			break
		}
	}

	page := HistoryPage{Messages: make([]DecryptedMessage, 0, len(selected)), FromCache: true}
	for idx := len(selected) - 1; idx >= 0; idx-- {
		row := selected[idx]
		page.Messages = append(page.Messages, s.decryptRow(ctx, models.Message{
			ID:                   row.ID,
			ConversationID:       row.ConversationID,
			SenderID:             row.SenderID,
			EncryptedContent:     row.EncryptedContent,
			InitializationVector: row.InitializationVector,
			SequenceNumber:       row.SequenceNumber,
			Edited:               row.Edited,
			ReadAt:               row.ReadAt,
			CreatedAt:            row.MessageCreatedAt,
		}, secret))
	}

	return page, nil
}

// decryptRow decrypt one message, degrading to a placeholder on failure
func (s *messageService) decryptRow(
	ctx context.Context, msg models.Message, secret encryption.SymmetricKey,
) DecryptedMessage {
	if secret == nil {
		return decryptedFromMessage(msg, PlaceholderKeysUnavailable, true)
	}

	plainText, err := s.engine.DecryptMessage(ctx, encryption.EncryptedData{
		CipherText: msg.EncryptedContent,
		IV:         msg.InitializationVector,
	}, secret)
	if err != nil {
		// Expected for messages encrypted under a rotated-out key; the page
		// must not fail over one row
		log.WithFields(s.LogTags).
			WithError(err).
			WithField("message", msg.ID).
			Debug("Message decryption failed, serving placeholder")
		return decryptedFromMessage(msg, PlaceholderUndecryptable, true)
	}

	return decryptedFromMessage(msg, string(plainText), false)
}
