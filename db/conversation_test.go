package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// TestDBConversations verifies the behavior of `Database.CreateConversation`,
// `Database.ListConversationsForUser`, `Database.TouchConversation`, and
// `Database.SetConversationArchived`.
func TestDBConversations(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	alice := uuid.NewString()
	bob := uuid.NewString()
	carol := uuid.NewString()

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		for _, userID := range []string{alice, bob, carol} {
			if _, err := dbClient.CreateUserProfile(ctx, userID, uuid.NewString()); err != nil {
				return err
			}
		}
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – Define two conversations for alice
	var convAB, convAC models.Conversation
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		if convAB, err = dbClient.CreateConversation(ctx, alice, bob); err != nil {
			return err
		}
		convAC, err = dbClient.CreateConversation(ctx, alice, carol)
		return err
	})
	assert.Nil(err)

	// 2 – Get one back and resolve the peer from each side
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		conv, err := dbClient.GetConversation(ctx, convAB.ID)
		if err != nil {
			return err
		}
		peer, ok := conv.OtherParticipant(alice)
		assert.True(ok)
		assert.Equal(bob, peer)
		peer, ok = conv.OtherParticipant(bob)
		assert.True(ok)
		assert.Equal(alice, peer)
		_, ok = conv.OtherParticipant(carol)
		assert.False(ok)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 3 – Listing covers both conversations for alice, one for bob
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		convs, err := dbClient.ListConversationsForUser(ctx, alice, db.ConversationQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(convs, 2)
		convs, err = dbClient.ListConversationsForUser(ctx, bob, db.ConversationQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(convs, 1)
		assert.Equal(convAB.ID, convs[0].ID)
		return nil
	})
	assert.Nil(err)

	// 4 – Touch a conversation; the timestamp is recorded
	touchTime := time.Now().UTC().Round(time.Second)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if err := dbClient.TouchConversation(ctx, convAB.ID, touchTime); err != nil {
			return err
		}
		conv, err := dbClient.GetConversation(ctx, convAB.ID)
		if err != nil {
			return err
		}
		assert.NotNil(conv.LastMessageAt)
		return nil
	})
	assert.Nil(err)

	// Touching an unknown conversation must fail
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.TouchConversation(ctx, uuid.NewString(), touchTime)
	})
	assert.Error(err)

	// -------------------------------------------------------------------------
	// 5 – Alice archives one conversation; her default listing shrinks,
	// bob's view is unaffected
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.SetConversationArchived(ctx, convAB.ID, alice, true)
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		convs, err := dbClient.ListConversationsForUser(ctx, alice, db.ConversationQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(convs, 1)
		assert.Equal(convAC.ID, convs[0].ID)
		convs, err = dbClient.ListConversationsForUser(
			ctx, alice, db.ConversationQueryFilter{IncludeArchived: true},
		)
		if err != nil {
			return err
		}
		assert.Len(convs, 2)
		convs, err = dbClient.ListConversationsForUser(ctx, bob, db.ConversationQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(convs, 1)
		return nil
	})
	assert.Nil(err)

	// 6 – Unarchive restores the default listing
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if err := dbClient.SetConversationArchived(ctx, convAB.ID, alice, false); err != nil {
			return err
		}
		convs, err := dbClient.ListConversationsForUser(ctx, alice, db.ConversationQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(convs, 2)
		return nil
	})
	assert.Nil(err)

	// 7 – A non-participant can not set archive flags
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.SetConversationArchived(ctx, convAB.ID, carol, true)
	})
	assert.Error(err)
}
