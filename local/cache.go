package local

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/models"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Offline message cache

/*
CacheMessages refresh the local copy of fetched messages

	@param ctx context.Context - execution context
	@param messages []models.Message - the fetched rows
*/
func (s *storeImpl) CacheMessages(_ context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	now := s.nowFn()
	entries := make([]CachedMessageDBEntry, 0, len(messages))
	for _, msg := range messages {
		// Soft-deleted rows never enter the cache
		if msg.Deleted {
			continue
		}
		entries = append(entries, CachedMessageDBEntry{
			CachedMessage: models.CachedMessage{
				ID:                   msg.ID,
				ConversationID:       msg.ConversationID,
				SenderID:             msg.SenderID,
				EncryptedContent:     msg.EncryptedContent,
				InitializationVector: msg.InitializationVector,
				SequenceNumber:       msg.SequenceNumber,
				Edited:               msg.Edited,
				ReadAt:               msg.ReadAt,
				MessageCreatedAt:     msg.CreatedAt,
				CachedAt:             now,
			},
		})
	}
	if len(entries) == 0 {
		return nil
	}

	// Re-fetching a page refreshes existing copies in place
	if tmp := s.db.
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entries); tmp.Error != nil {
		return fmt.Errorf("failed to cache %d messages [%w]", len(entries), tmp.Error)
	}

	return nil
}

/*
GetCachedMessages read the local copy of a conversation's messages

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@param limit int - maximum rows, newest first
	@return cached rows in descending sequence order
*/
func (s *storeImpl) GetCachedMessages(
	_ context.Context, conversationID string, limit int,
) ([]models.CachedMessage, error) {
	query := s.db.
		Model(&CachedMessageDBEntry{}).
		Where("conversation_id = ?", conversationID).
		Order("sequence_number desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []CachedMessageDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf(
			"failed to read cached messages of conversation %s [%w]", conversationID, tmp.Error,
		)
	}

	result := []models.CachedMessage{}
	for _, entry := range entries {
		result = append(result, entry.CachedMessage)
	}

	return result, nil
}

/*
DropCachedMessage remove one message from the cache

	@param ctx context.Context - execution context
	@param messageID string - the message
*/
func (s *storeImpl) DropCachedMessage(_ context.Context, messageID string) error {
	if tmp := s.db.
		Where("id = ?", messageID).
		Delete(&CachedMessageDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to drop cached message %s [%w]", messageID, tmp.Error)
	}

	return nil
}

/*
PurgeAll wipe every locally stored row

	@param ctx context.Context - execution context
*/
func (s *storeImpl) PurgeAll(_ context.Context) error {
	if tmp := s.db.
		Where("1 = 1").
		Delete(&QueuedMessageDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to purge queued messages [%w]", tmp.Error)
	}
	if tmp := s.db.
		Where("1 = 1").
		Delete(&CachedMessageDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to purge cached messages [%w]", tmp.Error)
	}

	return nil
}
