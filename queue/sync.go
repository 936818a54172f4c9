package queue

import (
	"context"
	"time"

	"github.com/alwitt/confide/db"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

/*
SyncQueue drain pending entries into the remote store

	@param ctx context.Context - execution context
	@return drain outcome
*/
func (m *queueManager) SyncQueue(ctx context.Context) (SyncReport, error) {
	// All trigger paths funnel through one singleflight key; concurrent
	// callers wait on and share the in-flight drain
	result, err, _ := m.syncGroup.Do("sync", func() (interface{}, error) {
		return m.drainOnce(ctx)
	})
	if err != nil {
		return SyncReport{}, err
	}
	return result.(SyncReport), nil
}

// drainOnce run a single queue drain pass
func (m *queueManager) drainOnce(ctx context.Context) (SyncReport, error) {
	m.lock.Lock()
	if m.isSyncing {
		// Should not occur behind singleflight, but the guard is the
		// contract: never two drains at once
		m.lock.Unlock()
		return SyncReport{}, nil
	}
	m.isSyncing = true
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		m.isSyncing = false
		m.lock.Unlock()
	}()

	if !m.monitor.Online() {
		log.WithFields(m.LogTags).Debug("Skipping queue drain while offline")
		return SyncReport{}, nil
	}

	pending, err := m.localStore.ListPendingMessages(ctx)
	if err != nil {
		return SyncReport{}, cerrors.Connection("failed to load pending queue entries", err)
	}

	report := SyncReport{}
	for _, entry := range pending {
		if err := m.promoteEntry(ctx, entry); err != nil {
			report.Failed++
			updated, recordErr := m.localStore.RecordSyncFailure(
				ctx, entry.ID, err.Error(), m.retryCeiling,
			)
			if recordErr != nil {
				log.WithFields(m.LogTags).
					WithError(recordErr).
					WithField("entry", entry.ID).
					Error("Failed to record sync failure")
				continue
			}
			log.WithFields(m.LogTags).
				WithError(err).
				WithField("entry", entry.ID).
				WithField("retries", updated.Retries).
				WithField("status", updated.Status).
				Warn("Queue entry sync failed")
			continue
		}
		report.Success++
	}

	log.WithFields(m.LogTags).
		WithField("success", report.Success).
		WithField("failed", report.Failed).
		Debug("Queue drain complete")

	return report, nil
}

// promoteEntry move one queue entry into the remote store
//
// The remote insert and the conversation touch commit together. Only after
// that does the local entry get marked synced and removed, so a crash
// between the phases leaves a synced marker, never a lost message.
func (m *queueManager) promoteEntry(ctx context.Context, entry models.QueuedMessage) error {
	now := time.Now()
	if err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if _, err := dbClient.InsertMessage(
				dbCtx,
				entry.ConversationID,
				entry.SenderID,
				entry.EncryptedContent,
				entry.InitializationVector,
				now,
			); err != nil {
				return err
			}
			return dbClient.TouchConversation(dbCtx, entry.ConversationID, now)
		},
	); err != nil {
		return err
	}

	if err := m.localStore.MarkQueuedMessageSynced(ctx, entry.ID); err != nil {
		return err
	}
	return m.localStore.DeleteQueuedMessage(ctx, entry.ID)
}

/*
RetryFailed move failed entries back to pending and drain again

	@param ctx context.Context - execution context
	@return drain outcome
*/
func (m *queueManager) RetryFailed(ctx context.Context) (SyncReport, error) {
	reset, err := m.localStore.ResetFailedMessages(ctx)
	if err != nil {
		return SyncReport{}, cerrors.Connection("failed to reset failed queue entries", err)
	}
	log.WithFields(m.LogTags).WithField("reset", reset).Info("Reset failed queue entries")

	return m.SyncQueue(ctx)
}

/*
GetFailedMessages list entries that exhausted their retry budget

	@param ctx context.Context - execution context
	@return failed entries
*/
func (m *queueManager) GetFailedMessages(ctx context.Context) ([]models.QueuedMessage, error) {
	return m.localStore.ListFailedMessages(ctx)
}

/*
ClearSyncedMessages remove synced and failed entries

	@param ctx context.Context - execution context
	@return number of entries removed
*/
func (m *queueManager) ClearSyncedMessages(ctx context.Context) (int64, error) {
	return m.localStore.ClearSyncedMessages(ctx)
}

/*
PendingCount count entries waiting to be synced

	@param ctx context.Context - execution context
	@return pending entry count
*/
func (m *queueManager) PendingCount(ctx context.Context) (int64, error) {
	return m.localStore.CountPendingMessages(ctx)
}
