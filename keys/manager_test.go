package keys_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/keys"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/session"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// prepareKeyManager build a key manager against a fresh temporary DB
func prepareKeyManager(
	assert *assert.Assertions, utCtx context.Context, userID string,
) (keys.Manager, db.Client, *session.StaticProvider) {
	testDB := fmt.Sprintf("/tmp/confide_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateUserProfile(ctx, userID, uuid.NewString())
			return err
		},
	)
	assert.Nil(err)

	engine, err := encryption.NewEngine(encryption.DefaultEngineParams())
	assert.Nil(err)

	provider := session.NewStaticProvider(userID)
	uut, err := keys.NewManager(keys.ManagerParams{
		Persistence: persistence,
		Engine:      engine,
		Session:     provider,
	})
	assert.Nil(err)

	return uut, persistence, provider
}

// TestKeyManagerInitializeAndDerive verifies first-time setup followed by
// login re-derivation.
func TestKeyManagerInitializeAndDerive(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	userID := uuid.NewString()
	uut, _, provider := prepareKeyManager(assert, utCtx, userID)

	password := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1 – A fresh user has no keys, and needs no migration
	hasKeys, err := uut.HasKeys(utCtx)
	assert.Nil(err)
	assert.False(hasKeys)
	needsMigration, err := uut.NeedsMigration(utCtx)
	assert.Nil(err)
	assert.False(needsMigration)
	assert.Nil(uut.GetCurrentKeys())

	// 2 – Initialize keys; the pair is held in memory and published
	assert.Nil(uut.InitializeKeys(utCtx, password))
	held := uut.GetCurrentKeys()
	assert.NotNil(held)
	hasKeys, err = uut.HasKeys(utCtx)
	assert.Nil(err)
	assert.True(hasKeys)

	// 3 – A second initialization is rejected
	err = uut.InitializeKeys(utCtx, password)
	assert.Error(err)
	assert.True(cerrors.IsValidation(err))

	// -------------------------------------------------------------------------
	// 4 – Logout clears the held pair
	uut.ClearKeys()
	assert.Nil(uut.GetCurrentKeys())

	// 5 – Login with the right password re-derives the same public key
	assert.Nil(uut.DeriveKeys(utCtx, password))
	rederived := uut.GetCurrentKeys()
	assert.NotNil(rederived)
	assert.True(held.PublicKeyJWK.Equal(rederived.PublicKeyJWK))

	// 6 – Login with a wrong password is a key mismatch, and no pair is held
	uut.ClearKeys()
	err = uut.DeriveKeys(utCtx, uuid.NewString())
	assert.Error(err)
	assert.True(cerrors.IsKeyMismatch(err))
	assert.Nil(uut.GetCurrentKeys())

	// -------------------------------------------------------------------------
	// 7 – Without an active session every operation is rejected
	provider.SetUserID("")
	err = uut.DeriveKeys(utCtx, password)
	assert.Error(err)
	assert.True(cerrors.IsAuthentication(err))
}

// TestKeyManagerRotation verifies `Manager.RotateKeys` and
// `Manager.RevokeKeys`.
func TestKeyManagerRotation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	userID := uuid.NewString()
	uut, persistence, _ := prepareKeyManager(assert, utCtx, userID)

	password := uuid.NewString()
	assert.Nil(uut.InitializeKeys(utCtx, password))
	original := uut.GetCurrentKeys()
	assert.NotNil(original)

	// -------------------------------------------------------------------------
	// 1 – Rotation publishes a different key under a fresh salt
	assert.Nil(uut.RotateKeys(utCtx, password))
	rotated := uut.GetCurrentKeys()
	assert.NotNil(rotated)
	assert.False(original.PublicKeyJWK.Equal(rotated.PublicKeyJWK))
	assert.NotEqual(original.Salt, rotated.Salt)

	// 2 – The store keeps the revoked record as history, one record current
	err := persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		records, err := dbClient.ListUserKeys(ctx, userID, true)
		if err != nil {
			return err
		}
		assert.Len(records, 2)
		current, err := dbClient.GetCurrentUserKey(ctx, userID)
		if err != nil {
			return err
		}
		assert.NotNil(current)
		assert.True(rotated.PublicKeyJWK.Equal(current.PublicKey.Data()))
		return nil
	})
	assert.Nil(err)

	// 3 – The peer-facing lookup serves the rotated key
	published, err := uut.GetUserPublicKey(utCtx, userID)
	assert.Nil(err)
	assert.NotNil(published)
	assert.True(rotated.PublicKeyJWK.Equal(*published))

	// -------------------------------------------------------------------------
	// 4 – Revocation without replacement fails closed
	assert.Nil(uut.RevokeKeys(utCtx))
	assert.Nil(uut.GetCurrentKeys())
	hasKeys, err := uut.HasKeys(utCtx)
	assert.Nil(err)
	assert.False(hasKeys)
	published, err = uut.GetUserPublicKey(utCtx, userID)
	assert.Nil(err)
	assert.Nil(published)
}

// TestKeyManagerMigrationDetection verifies `Manager.NeedsMigration` against
// legacy saltless records.
func TestKeyManagerMigrationDetection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	userID := uuid.NewString()
	uut, persistence, _ := prepareKeyManager(assert, utCtx, userID)

	// Plant a legacy record carrying no salt
	err := persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordUserKey(
				ctx, userID,
				models.PublicKeyJWK{Kty: "EC", Crv: "P-256", X: "legacy-x", Y: "legacy-y"},
				"",
			)
			return err
		},
	)
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 1 – A saltless record flags the account for migration
	needsMigration, err := uut.NeedsMigration(utCtx)
	assert.Nil(err)
	assert.True(needsMigration)

	// 2 – Login against the legacy record is a derivation error, not a crash
	err = uut.DeriveKeys(utCtx, uuid.NewString())
	assert.Error(err)
	assert.True(cerrors.IsKeyDerivation(err))

	// 3 – Rotation migrates the account; afterwards no migration is needed
	assert.Nil(uut.RotateKeys(utCtx, uuid.NewString()))
	needsMigration, err = uut.NeedsMigration(utCtx)
	assert.Nil(err)
	assert.False(needsMigration)
}
