package gdpr_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/gdpr"
	"github.com/alwitt/confide/keys"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/messaging"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/network"
	"github.com/alwitt/confide/session"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// gdprFixture everything a GDPR test scenario needs
type gdprFixture struct {
	persistence  db.Client
	aliceLocal   local.Store
	aliceSession *session.StaticProvider
	aliceKeys    keys.Manager
	aliceMsgs    messaging.Service
	bobKeys      keys.Manager
	uut          gdpr.Service
	conv         models.Conversation
	aliceID      string
	bobID        string
}

// prepareGDPRFixture stand up two keyed users with a conversation, plus the
// GDPR service bound to the first user
func prepareGDPRFixture(assert *assert.Assertions, utCtx context.Context) *gdprFixture {
	testDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	engine, err := encryption.NewEngine(encryption.DefaultEngineParams())
	assert.Nil(err)

	aliceID := uuid.NewString()
	bobID := uuid.NewString()

	var conv models.Conversation
	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			for _, userID := range []string{aliceID, bobID} {
				if _, err := dbClient.CreateUserProfile(ctx, userID, uuid.NewString()); err != nil {
					return err
				}
			}
			if _, err := dbClient.CreateUserConnection(
				ctx, aliceID, bobID, models.ConnectionStatusAccepted,
			); err != nil {
				return err
			}
			var err error
			conv, err = dbClient.CreateConversation(ctx, aliceID, bobID)
			return err
		},
	)
	assert.Nil(err)

	buildUser := func(userID string) (
		*session.StaticProvider, local.Store, keys.Manager, messaging.Service,
	) {
		localDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
		localStore, err := local.NewStore(local.GetSqliteDialector(localDB), logger.Error)
		assert.Nil(err)

		provider := session.NewStaticProvider(userID)
		keyManager, err := keys.NewManager(keys.ManagerParams{
			Persistence: persistence,
			Engine:      engine,
			Session:     provider,
		})
		assert.Nil(err)
		assert.Nil(keyManager.InitializeKeys(utCtx, uuid.NewString()))

		params := messaging.DefaultServiceParams()
		params.Persistence = persistence
		params.LocalStore = localStore
		params.Keys = keyManager
		params.Engine = engine
		params.Session = provider
		params.Monitor = network.NewFlagMonitor(true)
		service, err := messaging.NewService(params)
		assert.Nil(err)

		return provider, localStore, keyManager, service
	}

	aliceSession, aliceLocal, aliceKeys, aliceMsgs := buildUser(aliceID)
	_, _, bobKeys, _ := buildUser(bobID)

	uut, err := gdpr.NewService(gdpr.ServiceParams{
		Persistence: persistence,
		LocalStore:  aliceLocal,
		Keys:        aliceKeys,
		Engine:      engine,
		Session:     aliceSession,
	})
	assert.Nil(err)

	return &gdprFixture{
		persistence:  persistence,
		aliceLocal:   aliceLocal,
		aliceSession: aliceSession,
		aliceKeys:    aliceKeys,
		aliceMsgs:    aliceMsgs,
		bobKeys:      bobKeys,
		uut:          uut,
		conv:         conv,
		aliceID:      aliceID,
		bobID:        bobID,
	}
}

// TestGDPRExport verifies `Service.ExportUserData`.
func TestGDPRExport(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	fixture := prepareGDPRFixture(assert, utCtx)

	sent, err := fixture.aliceMsgs.SendMessage(utCtx, fixture.conv.ID, "for the record")
	assert.Nil(err)
	deleted, err := fixture.aliceMsgs.SendMessage(utCtx, fixture.conv.ID, "redacted later")
	assert.Nil(err)
	assert.Nil(fixture.aliceMsgs.DeleteMessage(utCtx, deleted.ID))

	// -------------------------------------------------------------------------
	// 1 – The export covers profile, connections, and all messages, the
	// soft-deleted one included
	doc, err := fixture.uut.ExportUserData(utCtx)
	assert.Nil(err)
	assert.Equal(fixture.aliceID, doc.Profile.ID)
	assert.Len(doc.Connections, 1)
	assert.Equal(fixture.bobID, doc.Connections[0].PeerID)
	assert.Len(doc.Conversations, 1)
	assert.Len(doc.Conversations[0].Messages, 2)

	// 2 – Decryptable content is exported as plaintext, chronologically
	assert.Equal("for the record", doc.Conversations[0].Messages[0].Content)
	assert.Equal(sent.ID, doc.Conversations[0].Messages[0].ID)
	assert.False(doc.Conversations[0].Messages[0].DecryptFailed)
	assert.Equal("redacted later", doc.Conversations[0].Messages[1].Content)

	// -------------------------------------------------------------------------
	// 3 – With the peer's keys revoked, content degrades to the
	// keys-unavailable placeholder instead of failing the export
	assert.Nil(fixture.bobKeys.RevokeKeys(utCtx))
	doc, err = fixture.uut.ExportUserData(utCtx)
	assert.Nil(err)
	assert.Len(doc.Conversations[0].Messages, 2)
	for _, msg := range doc.Conversations[0].Messages {
		assert.Equal("[Encryption keys unavailable - cannot decrypt]", msg.Content)
		assert.True(msg.DecryptFailed)
	}

	// 4 – Without an authenticated session the export is refused
	fixture.aliceSession.SetUserID("")
	_, err = fixture.uut.ExportUserData(utCtx)
	assert.Error(err)
	assert.True(cerrors.IsAuthentication(err))
}

// TestGDPRExportUndecryptablePlaceholder verifies the decrypt-failure
// placeholder for content encrypted under a rotated-out key.
func TestGDPRExportUndecryptablePlaceholder(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	fixture := prepareGDPRFixture(assert, utCtx)

	_, err := fixture.aliceMsgs.SendMessage(utCtx, fixture.conv.ID, "soon unreadable")
	assert.Nil(err)

	// Rotation is forward-only: the old message was encrypted under the old
	// shared secret and the new key pair can not recover it
	assert.Nil(fixture.aliceKeys.RotateKeys(utCtx, uuid.NewString()))

	doc, err := fixture.uut.ExportUserData(utCtx)
	assert.Nil(err)
	assert.Len(doc.Conversations[0].Messages, 1)
	assert.Equal("[Message could not be decrypted]", doc.Conversations[0].Messages[0].Content)
	assert.True(doc.Conversations[0].Messages[0].DecryptFailed)
}

// TestGDPRErasure verifies `Service.DeleteUserAccount`.
func TestGDPRErasure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	fixture := prepareGDPRFixture(assert, utCtx)

	_, err := fixture.aliceMsgs.SendMessage(utCtx, fixture.conv.ID, "soon gone")
	assert.Nil(err)

	// Warm alice's local cache so the purge has something to remove
	_, err = fixture.aliceMsgs.GetMessageHistory(utCtx, fixture.conv.ID, nil, 10)
	assert.Nil(err)
	cached, err := fixture.aliceLocal.GetCachedMessages(utCtx, fixture.conv.ID, 0)
	assert.Nil(err)
	assert.NotEmpty(cached)

	// -------------------------------------------------------------------------
	// 1 – Erasure succeeds
	assert.Nil(fixture.uut.DeleteUserAccount(utCtx))

	// 2 – In-memory keys are gone and the session is terminated
	assert.Nil(fixture.aliceKeys.GetCurrentKeys())
	currentUser, err := fixture.aliceSession.CurrentUserID(utCtx)
	assert.Nil(err)
	assert.Empty(currentUser)

	// 3 – Device-local data is purged
	cached, err = fixture.aliceLocal.GetCachedMessages(utCtx, fixture.conv.ID, 0)
	assert.Nil(err)
	assert.Empty(cached)

	// 4 – The remote cascade removed profile, keys, conversations, and
	// messages; bob's account survives
	err = fixture.persistence.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.GetUserProfile(ctx, fixture.aliceID)
			assert.Error(err)
			records, err := dbClient.ListUserKeys(ctx, fixture.aliceID, true)
			if err != nil {
				return err
			}
			assert.Empty(records)
			rows, err := dbClient.ListMessages(
				ctx, fixture.conv.ID, db.MessageQueryFilter{IncludeDeleted: true},
			)
			if err != nil {
				return err
			}
			assert.Empty(rows)
			_, err = dbClient.GetUserProfile(ctx, fixture.bobID)
			return err
		},
	)
	assert.Nil(err)

	// 5 – A second erasure attempt is refused for lack of a session
	err = fixture.uut.DeleteUserAccount(utCtx)
	assert.Error(err)
	assert.True(cerrors.IsAuthentication(err))
}
