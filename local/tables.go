package local

import "github.com/alwitt/confide/models"

// QueuedMessageDBEntry offline queue DB entry
type QueuedMessageDBEntry struct {
	models.QueuedMessage
}

// TableName hard code table name
func (QueuedMessageDBEntry) TableName() string {
	return "queued_messages"
}

// CachedMessageDBEntry offline message cache DB entry
type CachedMessageDBEntry struct {
	models.CachedMessage
}

// TableName hard code table name
func (CachedMessageDBEntry) TableName() string {
	return "cached_messages"
}
