package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/confide/models"
	"github.com/google/uuid"
)

// ======================================================================================
// Conversations

/*
CreateConversation define a new two-party conversation

	@param ctx context.Context - execution context
	@param participantOne string - first participant
	@param participantTwo string - second participant
	@returns the conversation
*/
func (d *databaseImpl) CreateConversation(
	_ context.Context, participantOne string, participantTwo string,
) (models.Conversation, error) {
	newEntry := ConversationDBEntry{
		Conversation: models.Conversation{
			ID:             uuid.NewString(),
			ParticipantOne: participantOne,
			ParticipantTwo: participantTwo,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Conversation{}, fmt.Errorf(
			"new conversation between %s and %s is not valid [%w]",
			participantOne, participantTwo, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Conversation{}, fmt.Errorf(
			"new conversation between %s and %s failed insert [%w]",
			participantOne, participantTwo, tmp.Error,
		)
	}

	return newEntry.Conversation, nil
}

// getConversationEntry find a conversation by ID
func (d *databaseImpl) getConversationEntry(conversationID string) (ConversationDBEntry, error) {
	var entry ConversationDBEntry
	err := d.db.Where("id = ?", conversationID).First(&entry).Error
	return entry, err
}

/*
GetConversation fetch a conversation by ID

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@returns the conversation
*/
func (d *databaseImpl) GetConversation(
	_ context.Context, conversationID string,
) (models.Conversation, error) {
	entry, err := d.getConversationEntry(conversationID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf(
			"failed to fetch conversation %s [%w]", conversationID, err,
		)
	}

	return entry.Conversation, nil
}

/*
ListConversationsForUser list conversations a user participates in

	@param ctx context.Context - execution context
	@param userID string - the user
	@param filters ConversationQueryFilter - listing filter
	@return conversations, most recently active first
*/
func (d *databaseImpl) ListConversationsForUser(
	_ context.Context, userID string, filters ConversationQueryFilter,
) ([]models.Conversation, error) {
	query := d.db.Model(&ConversationDBEntry{}).
		Where("participant_one = ? OR participant_two = ?", userID, userID)

	if !filters.IncludeArchived {
		query = query.Where(
			"(participant_one = ? AND participant_one_archived = ?) OR "+
				"(participant_two = ? AND participant_two_archived = ?)",
			userID, false, userID, false,
		)
	}

	query = query.Order("last_message_at desc")

	var entries []ConversationDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list conversations of user %s [%w]", userID, tmp.Error)
	}

	result := []models.Conversation{}
	for _, entry := range entries {
		result = append(result, entry.Conversation)
	}

	return result, nil
}

/*
TouchConversation update a conversation's last message timestamp

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@param timestamp time.Time - the new last message timestamp
*/
func (d *databaseImpl) TouchConversation(
	_ context.Context, conversationID string, timestamp time.Time,
) error {
	tmp := d.db.
		Model(&ConversationDBEntry{}).
		Where("id = ?", conversationID).
		Update("last_message_at", timestamp)
	if tmp.Error != nil {
		return fmt.Errorf("failed to touch conversation %s [%w]", conversationID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("conversation %s unknown", conversationID)
	}

	return nil
}

/*
SetConversationArchived toggle one participant's archive flag

	@param ctx context.Context - execution context
	@param conversationID string - the conversation
	@param userID string - the participant whose flag to set
	@param archived bool - the new flag value
*/
func (d *databaseImpl) SetConversationArchived(
	_ context.Context, conversationID string, userID string, archived bool,
) error {
	entry, err := d.getConversationEntry(conversationID)
	if err != nil {
		return fmt.Errorf("failed to fetch conversation %s [%w]", conversationID, err)
	}

	var column string
	switch userID {
	case entry.ParticipantOne:
		column = "participant_one_archived"
	case entry.ParticipantTwo:
		column = "participant_two_archived"
	default:
		return fmt.Errorf("user %s is not a participant of conversation %s", userID, conversationID)
	}

	if tmp := d.db.
		Model(&ConversationDBEntry{}).
		Where("id = ?", conversationID).
		Update(column, archived); tmp.Error != nil {
		return fmt.Errorf(
			"failed to set archive flag on conversation %s [%w]", conversationID, tmp.Error,
		)
	}

	return nil
}
