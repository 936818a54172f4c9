package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/network"
	"github.com/alwitt/confide/queue"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// prepareQueueFixture stand up remote and local stores with a conversation
func prepareQueueFixture(
	assert *assert.Assertions, utCtx context.Context,
) (db.Client, local.Store, *network.FlagMonitor, models.Conversation, string) {
	testDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	localDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
	localStore, err := local.NewStore(local.GetSqliteDialector(localDB), logger.Error)
	assert.Nil(err)

	alice := uuid.NewString()
	bob := uuid.NewString()
	var conv models.Conversation
	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			for _, userID := range []string{alice, bob} {
				if _, err := dbClient.CreateUserProfile(ctx, userID, uuid.NewString()); err != nil {
					return err
				}
			}
			var err error
			conv, err = dbClient.CreateConversation(ctx, alice, bob)
			return err
		},
	)
	assert.Nil(err)

	return persistence, localStore, network.NewFlagMonitor(true), conv, alice
}

// TestQueueSyncDrain verifies that `Manager.SyncQueue` promotes pending
// entries exactly once.
func TestQueueSyncDrain(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	persistence, localStore, monitor, conv, alice := prepareQueueFixture(assert, utCtx)

	uut, err := queue.NewManager(queue.DefaultManagerParams(persistence, localStore, monitor))
	assert.Nil(err)

	// Stage three messages
	for idx := 0; idx < 3; idx++ {
		_, err := localStore.QueueMessage(
			utCtx, conv.ID, alice,
			[]byte(fmt.Sprintf("ct-%d", idx+1)), []byte(uuid.NewString()),
		)
		assert.Nil(err)
	}

	// -------------------------------------------------------------------------
	// 1 – One drain promotes all three
	report, err := uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(3, report.Success)
	assert.Equal(0, report.Failed)

	count, err := uut.PendingCount(utCtx)
	assert.Nil(err)
	assert.Equal(int64(0), count)

	// 2 – The remote rows exist with sequence numbers assigned in queue order
	err = persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		rows, err := dbClient.ListMessages(ctx, conv.ID, db.MessageQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(rows, 3)
		assert.Equal([]byte("ct-3"), rows[0].EncryptedContent)
		assert.Equal(int64(3), rows[0].SequenceNumber)
		assert.Equal([]byte("ct-1"), rows[2].EncryptedContent)
		fetched, err := dbClient.GetConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		assert.NotNil(fetched.LastMessageAt)
		return nil
	})
	assert.Nil(err)

	// 3 – A second drain finds nothing; no duplicates appear
	report, err = uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(0, report.Success)
	err = persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		rows, err := dbClient.ListMessages(ctx, conv.ID, db.MessageQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(rows, 3)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 4 – While offline the drain is a no-op and entries stay put
	_, err = localStore.QueueMessage(utCtx, conv.ID, alice, []byte("ct-4"), []byte("iv"))
	assert.Nil(err)
	monitor.SetOnline(false)
	report, err = uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(0, report.Success)
	count, err = uut.PendingCount(utCtx)
	assert.Nil(err)
	assert.Equal(int64(1), count)
}

// TestQueueBoundedRetry verifies retry accounting and `Manager.RetryFailed`.
func TestQueueBoundedRetry(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	persistence, localStore, monitor, conv, alice := prepareQueueFixture(assert, utCtx)

	params := queue.DefaultManagerParams(persistence, localStore, monitor)
	params.RetryCeiling = 2
	uut, err := queue.NewManager(params)
	assert.Nil(err)

	// One deliverable entry and one doomed entry targeting a conversation
	// that does not exist, which the remote store's FK rejects
	_, err = localStore.QueueMessage(utCtx, conv.ID, alice, []byte("good"), []byte("iv"))
	assert.Nil(err)
	doomed, err := localStore.QueueMessage(
		utCtx, uuid.NewString(), alice, []byte("bad"), []byte("iv"),
	)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – First drain: one success, one failure, entry still pending
	report, err := uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(1, report.Success)
	assert.Equal(1, report.Failed)
	failed, err := uut.GetFailedMessages(utCtx)
	assert.Nil(err)
	assert.Empty(failed)

	// 2 – Second drain hits the retry ceiling; the entry is parked as failed
	report, err = uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(1, report.Failed)
	failed, err = uut.GetFailedMessages(utCtx)
	assert.Nil(err)
	assert.Len(failed, 1)
	assert.Equal(doomed.ID, failed[0].ID)
	assert.Equal(2, failed[0].Retries)
	assert.NotEmpty(failed[0].LastError)

	// 3 – Parked entries are skipped by subsequent drains
	report, err = uut.SyncQueue(utCtx)
	assert.Nil(err)
	assert.Equal(0, report.Failed)

	// -------------------------------------------------------------------------
	// 4 – RetryFailed gives the entry a fresh budget; it fails again since
	// the target conversation still does not exist
	report, err = uut.RetryFailed(utCtx)
	assert.Nil(err)
	assert.Equal(1, report.Failed)

	// 5 – Maintenance clears parked entries
	_, err = uut.RetryFailed(utCtx)
	assert.Nil(err)
	removed, err := uut.ClearSyncedMessages(utCtx)
	assert.Nil(err)
	assert.Equal(int64(1), removed)
	failed, err = uut.GetFailedMessages(utCtx)
	assert.Nil(err)
	assert.Empty(failed)
}

// TestQueueBackgroundTriggers verifies the online-transition trigger path of
// the background loop.
func TestQueueBackgroundTriggers(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	persistence, localStore, monitor, conv, alice := prepareQueueFixture(assert, utCtx)

	monitor.SetOnline(false)

	params := queue.DefaultManagerParams(persistence, localStore, monitor)
	params.PollInterval = time.Hour
	uut, err := queue.NewManager(params)
	assert.Nil(err)

	_, err = localStore.QueueMessage(utCtx, conv.ID, alice, []byte("ct"), []byte("iv"))
	assert.Nil(err)

	uut.Start(utCtx)
	defer uut.Stop()

	// -------------------------------------------------------------------------
	// 1 – Going online triggers a background drain
	monitor.SetOnline(true)
	drained := false
	for attempt := 0; attempt < 100; attempt++ {
		count, err := uut.PendingCount(utCtx)
		assert.Nil(err)
		if count == 0 {
			drained = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.True(drained)

	// 2 – The message reached the remote store exactly once
	err = persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		rows, err := dbClient.ListMessages(ctx, conv.ID, db.MessageQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(rows, 1)
		return nil
	})
	assert.Nil(err)
}

// TestQueueRestartReusesTrigger verifies the manager holds a single monitor
// subscription across Start/Stop cycles.
func TestQueueRestartReusesTrigger(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	persistence, localStore, monitor, conv, alice := prepareQueueFixture(assert, utCtx)

	monitor.SetOnline(false)

	params := queue.DefaultManagerParams(persistence, localStore, monitor)
	params.PollInterval = time.Hour
	uut, err := queue.NewManager(params)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – The subscription is taken at construction and restart cycles never
	// add another
	assert.Equal(1, monitor.Subscribers())
	for cycle := 0; cycle < 3; cycle++ {
		uut.Start(utCtx)
		uut.Stop()
	}
	assert.Equal(1, monitor.Subscribers())

	// 2 – After the cycles the online-transition trigger still drains
	_, err = localStore.QueueMessage(utCtx, conv.ID, alice, []byte("ct"), []byte("iv"))
	assert.Nil(err)
	uut.Start(utCtx)
	defer uut.Stop()
	monitor.SetOnline(true)
	drained := false
	for attempt := 0; attempt < 100; attempt++ {
		count, err := uut.PendingCount(utCtx)
		assert.Nil(err)
		if count == 0 {
			drained = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.True(drained)
}
