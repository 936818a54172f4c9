package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/confide/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ======================================================================================
// Messages

// maxSequenceClaimAttempts how many uniqueness conflicts one insert tolerates
// before giving up
const maxSequenceClaimAttempts = 3

/*
InsertMessage persist a new message

	@param ctx context.Context - execution context
	@param conversationID string - the target conversation
	@param senderID string - the sending user
	@param content []byte - the message ciphertext
	@param iv []byte - the encryption IV
	@param timestamp time.Time - creation and delivery timestamp
	@returns the persisted message
*/
func (d *databaseImpl) InsertMessage(
	ctx context.Context,
	conversationID string,
	senderID string,
	content []byte,
	iv []byte,
	timestamp time.Time,
) (models.Message, error) {
	// The sequence read and the insert share one transaction, but on
	// dialectors without single-writer serialization two concurrent inserts
	// can still read the same max. The unique index over
	// (conversation_id, sequence_number) rejects the loser, which re-reads
	// and tries the next number.
	for attempt := 0; attempt < maxSequenceClaimAttempts; attempt++ {
		maxSeq, err := d.MaxSequenceNumber(ctx, conversationID)
		if err != nil {
			return models.Message{}, fmt.Errorf(
				"failed to resolve next sequence number in conversation %s [%w]", conversationID, err,
			)
		}

		delivered := timestamp
		newEntry := MessageDBEntry{
			Message: models.Message{
				ID:                   ulid.Make().String(),
				ConversationID:       conversationID,
				SenderID:             senderID,
				EncryptedContent:     content,
				InitializationVector: iv,
				SequenceNumber:       maxSeq + 1,
				DeliveredAt:          &delivered,
				CreatedAt:            timestamp,
				UpdatedAt:            timestamp,
			},
		}

		if err := d.validator.Struct(&newEntry); err != nil {
			return models.Message{}, fmt.Errorf(
				"new message in conversation %s is not valid [%w]", conversationID, err,
			)
		}

		if tmp := d.db.Create(&newEntry); tmp.Error != nil {
			if errors.Is(tmp.Error, gorm.ErrDuplicatedKey) {
				continue
			}
			return models.Message{}, fmt.Errorf(
				"new message in conversation %s failed insert [%w]", conversationID, tmp.Error,
			)
		}

		return newEntry.Message, nil
	}

	return models.Message{}, fmt.Errorf(
		"failed to claim a sequence number in conversation %s after %d attempts",
		conversationID, maxSequenceClaimAttempts,
	)
}

// getMessageEntry find a message by ID
func (d *databaseImpl) getMessageEntry(messageID string) (MessageDBEntry, error) {
	var entry MessageDBEntry
	err := d.db.Where("id = ?", messageID).First(&entry).Error
	return entry, err
}

/*
GetMessage fetch a message by ID

	@param ctx context.Context - execution context
	@param messageID string - the message
	@returns the message
*/
func (d *databaseImpl) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	entry, err := d.getMessageEntry(messageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to fetch message %s [%w]", messageID, err)
	}

	return entry.Message, nil
}

/*
ListMessages list messages of a conversation, newest first

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@param filters MessageQueryFilter - listing filter
	@return messages in descending sequence order
*/
func (d *databaseImpl) ListMessages(
	_ context.Context, conversationID string, filters MessageQueryFilter,
) ([]models.Message, error) {
	query := d.db.Model(&MessageDBEntry{}).Where("conversation_id = ?", conversationID)

	if !filters.IncludeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if filters.BeforeSequence != nil {
		query = query.Where("sequence_number < ?", *filters.BeforeSequence)
	}
	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}

	query = query.Order("sequence_number desc")

	var entries []MessageDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf(
			"failed to list messages of conversation %s [%w]", conversationID, tmp.Error,
		)
	}

	result := []models.Message{}
	for _, entry := range entries {
		result = append(result, entry.Message)
	}

	return result, nil
}

/*
MaxSequenceNumber report the highest sequence number in a conversation

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@return the highest assigned sequence number, 0 when empty
*/
func (d *databaseImpl) MaxSequenceNumber(
	_ context.Context, conversationID string,
) (int64, error) {
	var maxSeq int64
	tmp := d.db.
		Model(&MessageDBEntry{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&maxSeq)
	if tmp.Error != nil {
		return 0, fmt.Errorf(
			"failed to read max sequence number of conversation %s [%w]", conversationID, tmp.Error,
		)
	}

	return maxSeq, nil
}

/*
MarkMessagesRead batch stamp read receipts

	@param ctx context.Context - execution context
	@param messageIDs []string - the messages to mark
	@param timestamp time.Time - the read timestamp
	@return number of rows updated
*/
func (d *databaseImpl) MarkMessagesRead(
	_ context.Context, messageIDs []string, timestamp time.Time,
) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	// read_at moves null -> timestamp exactly once, never reverted
	tmp := d.db.
		Model(&MessageDBEntry{}).
		Where("id IN ?", messageIDs).
		Where("read_at IS NULL").
		Update("read_at", timestamp)
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read [%w]", tmp.Error)
	}

	return tmp.RowsAffected, nil
}

/*
UpdateMessageContent replace a message's ciphertext after an edit

	@param ctx context.Context - execution context
	@param messageID string - the message
	@param content []byte - the new ciphertext
	@param iv []byte - the new encryption IV
	@param editedAt time.Time - the edit timestamp
*/
func (d *databaseImpl) UpdateMessageContent(
	_ context.Context, messageID string, content []byte, iv []byte, editedAt time.Time,
) error {
	tmp := d.db.
		Model(&MessageDBEntry{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"encrypted_content":     content,
			"initialization_vector": iv,
			"edited":                true,
			"edited_at":             editedAt,
		})
	if tmp.Error != nil {
		return fmt.Errorf("failed to update content of message %s [%w]", messageID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("message %s unknown", messageID)
	}

	return nil
}

/*
MarkMessageDeleted soft delete a message

	@param ctx context.Context - execution context
	@param messageID string - the message
*/
func (d *databaseImpl) MarkMessageDeleted(_ context.Context, messageID string) error {
	tmp := d.db.
		Model(&MessageDBEntry{}).
		Where("id = ?", messageID).
		Update("deleted", true)
	if tmp.Error != nil {
		return fmt.Errorf("failed to mark message %s deleted [%w]", messageID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("message %s unknown", messageID)
	}

	return nil
}
