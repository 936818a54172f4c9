// Package local - device-local durable storage for the offline queue and
// message cache
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/confide/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

/*
GetSqliteDialector define Sqlite GORM dialector for a device-local DB file

	@param dbFile string - Sqlite DB file
	@return GORM sqlite dialector
*/
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("%s?_foreign_keys=on", dbFile))
}

/*
Store the device-local durable store.

It is the only component permitted to write QueuedMessage rows. Queue entries
are owned here until sync succeeds, at which point the canonical record lives
in the remote store. Derived key material must NEVER pass through this store.
*/
type Store interface {
	// ------------------------------------------------------------------------------------
	// Offline queue

	/*
		QueueMessage stage a message that could not be delivered immediately

			@param ctx context.Context - execution context
			@param conversationID string - the target conversation
			@param senderID string - the sending user
			@param content []byte - the already-encrypted message content
			@param iv []byte - the encryption IV
			@returns the staged entry
	*/
	QueueMessage(
		ctx context.Context, conversationID string, senderID string, content []byte, iv []byte,
	) (models.QueuedMessage, error)

	/*
		ListPendingMessages list entries waiting to be synced, oldest first

			@param ctx context.Context - execution context
			@return pending entries
	*/
	ListPendingMessages(ctx context.Context) ([]models.QueuedMessage, error)

	/*
		ListFailedMessages list entries that exhausted their retry budget

			@param ctx context.Context - execution context
			@return failed entries
	*/
	ListFailedMessages(ctx context.Context) ([]models.QueuedMessage, error)

	/*
		MarkQueuedMessageSynced flag an entry as promoted to the remote store

			@param ctx context.Context - execution context
			@param entryID string - the queue entry
	*/
	MarkQueuedMessageSynced(ctx context.Context, entryID string) error

	/*
		DeleteQueuedMessage remove a queue entry

			@param ctx context.Context - execution context
			@param entryID string - the queue entry
	*/
	DeleteQueuedMessage(ctx context.Context, entryID string) error

	/*
		RecordSyncFailure note a failed sync attempt on an entry

		The retry counter is incremented; past the ceiling the entry moves to
		the terminal failed state instead of retrying forever.

			@param ctx context.Context - execution context
			@param entryID string - the queue entry
			@param detail string - failure detail
			@param retryCeiling int - maximum attempts before giving up
			@returns the updated entry
	*/
	RecordSyncFailure(
		ctx context.Context, entryID string, detail string, retryCeiling int,
	) (models.QueuedMessage, error)

	/*
		ResetFailedMessages move failed entries back to pending

			@param ctx context.Context - execution context
			@return number of entries reset
	*/
	ResetFailedMessages(ctx context.Context) (int64, error)

	/*
		ClearSyncedMessages remove synced and failed entries

			@param ctx context.Context - execution context
			@return number of entries removed
	*/
	ClearSyncedMessages(ctx context.Context) (int64, error)

	/*
		CountPendingMessages count entries waiting to be synced

			@param ctx context.Context - execution context
			@return pending entry count
	*/
	CountPendingMessages(ctx context.Context) (int64, error)

	// ------------------------------------------------------------------------------------
	// Offline message cache

	/*
		CacheMessages refresh the local copy of fetched messages

			@param ctx context.Context - execution context
			@param messages []models.Message - the fetched rows
	*/
	CacheMessages(ctx context.Context, messages []models.Message) error

	/*
		GetCachedMessages read the local copy of a conversation's messages

			@param ctx context.Context - execution context
			@param conversationID string - the conversation
			@param limit int - maximum rows, newest first
			@return cached rows in descending sequence order
	*/
	GetCachedMessages(
		ctx context.Context, conversationID string, limit int,
	) ([]models.CachedMessage, error)

	/*
		DropCachedMessage remove one message from the cache

			@param ctx context.Context - execution context
			@param messageID string - the message
	*/
	DropCachedMessage(ctx context.Context, messageID string) error

	/*
		PurgeAll wipe every locally stored row

		Used during account erasure; local data is destroyed before the remote
		identity is.

			@param ctx context.Context - execution context
	*/
	PurgeAll(ctx context.Context) error
}

// storeImpl implements Store
type storeImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
	nowFn     func() time.Time
}

/*
NewStore define a new device-local store

The backing tables are migrated in place on open; the local schema is owned
by this process, unlike the remote store's.

	@param dbDialector gorm.Dialector - GORM dialector for the local DB file
	@param dbLogLevel logger.LogLevel - SQL log level
	@return new store
*/
func NewStore(dbDialector gorm.Dialector, dbLogLevel logger.LogLevel) (Store, error) {
	logTags := log.Fields{"package": "confide", "module": "local", "component": "local-store"}

	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(dbLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local DB [%w]", err)
	}

	if err := db.AutoMigrate(QueuedMessageDBEntry{}, CachedMessageDBEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local tables [%w]", err)
	}

	instance := &storeImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        db,
		validator: validator.New(),
		nowFn:     time.Now,
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

/*
QueueMessage stage a message that could not be delivered immediately

	@param ctx context.Context - execution context
	@param conversationID string - the target conversation
	@param senderID string - the sending user
	@param content []byte - the already-encrypted message content
	@param iv []byte - the encryption IV
	@returns the staged entry
*/
func (s *storeImpl) QueueMessage(
	_ context.Context, conversationID string, senderID string, content []byte, iv []byte,
) (models.QueuedMessage, error) {
	newEntry := QueuedMessageDBEntry{
		QueuedMessage: models.QueuedMessage{
			ID:                   ulid.Make().String(),
			ConversationID:       conversationID,
			SenderID:             senderID,
			EncryptedContent:     content,
			InitializationVector: iv,
			Status:               models.QueueStatusPending,
		},
	}

	if err := s.validator.Struct(&newEntry); err != nil {
		return models.QueuedMessage{}, fmt.Errorf(
			"new queue entry for conversation %s is not valid [%w]", conversationID, err,
		)
	}

	if tmp := s.db.Create(&newEntry); tmp.Error != nil {
		return models.QueuedMessage{}, fmt.Errorf(
			"new queue entry for conversation %s failed insert [%w]", conversationID, tmp.Error,
		)
	}

	return newEntry.QueuedMessage, nil
}

// listByStatus list queue entries in one status, oldest first
func (s *storeImpl) listByStatus(
	status models.QueueStatusENUMType,
) ([]models.QueuedMessage, error) {
	var entries []QueuedMessageDBEntry
	if tmp := s.db.
		Model(&QueuedMessageDBEntry{}).
		Where("status = ?", status).
		Where("synced = ?", false).
		Order("created_at asc").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list %s queue entries [%w]", status, tmp.Error)
	}

	result := []models.QueuedMessage{}
	for _, entry := range entries {
		result = append(result, entry.QueuedMessage)
	}

	return result, nil
}

/*
ListPendingMessages list entries waiting to be synced, oldest first

	@param ctx context.Context - execution context
	@return pending entries
*/
func (s *storeImpl) ListPendingMessages(_ context.Context) ([]models.QueuedMessage, error) {
	return s.listByStatus(models.QueueStatusPending)
}

/*
ListFailedMessages list entries that exhausted their retry budget

	@param ctx context.Context - execution context
	@return failed entries
*/
func (s *storeImpl) ListFailedMessages(_ context.Context) ([]models.QueuedMessage, error) {
	return s.listByStatus(models.QueueStatusFailed)
}

/*
MarkQueuedMessageSynced flag an entry as promoted to the remote store

	@param ctx context.Context - execution context
	@param entryID string - the queue entry
*/
func (s *storeImpl) MarkQueuedMessageSynced(_ context.Context, entryID string) error {
	tmp := s.db.
		Model(&QueuedMessageDBEntry{}).
		Where("id = ?", entryID).
		Update("synced", true)
	if tmp.Error != nil {
		return fmt.Errorf("failed to mark queue entry %s synced [%w]", entryID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("queue entry %s unknown", entryID)
	}

	return nil
}

/*
DeleteQueuedMessage remove a queue entry

	@param ctx context.Context - execution context
	@param entryID string - the queue entry
*/
func (s *storeImpl) DeleteQueuedMessage(_ context.Context, entryID string) error {
	if tmp := s.db.
		Where("id = ?", entryID).
		Delete(&QueuedMessageDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete queue entry %s [%w]", entryID, tmp.Error)
	}

	return nil
}

/*
RecordSyncFailure note a failed sync attempt on an entry

	@param ctx context.Context - execution context
	@param entryID string - the queue entry
	@param detail string - failure detail
	@param retryCeiling int - maximum attempts before giving up
	@returns the updated entry
*/
func (s *storeImpl) RecordSyncFailure(
	_ context.Context, entryID string, detail string, retryCeiling int,
) (models.QueuedMessage, error) {
	var entry QueuedMessageDBEntry
	if tmp := s.db.Where("id = ?", entryID).First(&entry); tmp.Error != nil {
		return models.QueuedMessage{}, fmt.Errorf(
			"failed to fetch queue entry %s [%w]", entryID, tmp.Error,
		)
	}

	entry.Retries++
	entry.LastError = detail
	if entry.Retries >= retryCeiling {
		if err := entry.ValidateNextState(models.QueueStatusFailed); err != nil {
			return models.QueuedMessage{}, fmt.Errorf(
				"queue entry %s state change rejected [%w]", entryID, err,
			)
		}
		entry.Status = models.QueueStatusFailed
	}

	if tmp := s.db.
		Model(&QueuedMessageDBEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"retries":    entry.Retries,
			"last_error": entry.LastError,
			"status":     entry.Status,
		}); tmp.Error != nil {
		return models.QueuedMessage{}, fmt.Errorf(
			"failed to record sync failure on queue entry %s [%w]", entryID, tmp.Error,
		)
	}

	return entry.QueuedMessage, nil
}

/*
ResetFailedMessages move failed entries back to pending

	@param ctx context.Context - execution context
	@return number of entries reset
*/
func (s *storeImpl) ResetFailedMessages(_ context.Context) (int64, error) {
	tmp := s.db.
		Model(&QueuedMessageDBEntry{}).
		Where("status = ?", models.QueueStatusFailed).
		Updates(map[string]interface{}{
			"status":  models.QueueStatusPending,
			"retries": 0,
		})
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to reset failed queue entries [%w]", tmp.Error)
	}

	return tmp.RowsAffected, nil
}

/*
ClearSyncedMessages remove synced and failed entries

	@param ctx context.Context - execution context
	@return number of entries removed
*/
func (s *storeImpl) ClearSyncedMessages(_ context.Context) (int64, error) {
	tmp := s.db.
		Where("synced = ? OR status = ?", true, models.QueueStatusFailed).
		Delete(&QueuedMessageDBEntry{})
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to clear synced queue entries [%w]", tmp.Error)
	}

	return tmp.RowsAffected, nil
}

/*
CountPendingMessages count entries waiting to be synced

	@param ctx context.Context - execution context
	@return pending entry count
*/
func (s *storeImpl) CountPendingMessages(_ context.Context) (int64, error) {
	var count int64
	if tmp := s.db.
		Model(&QueuedMessageDBEntry{}).
		Where("status = ?", models.QueueStatusPending).
		Where("synced = ?", false).
		Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count pending queue entries [%w]", tmp.Error)
	}

	return count, nil
}
