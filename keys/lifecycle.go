package keys

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/alwitt/confide/db"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

// requireUser resolve the authenticated caller
func (m *keyManager) requireUser(ctx context.Context) (string, error) {
	userID, err := m.session.CurrentUserID(ctx)
	if err != nil {
		return "", cerrors.Authentication(fmt.Sprintf("session lookup failed: %v", err))
	}
	if userID == "" {
		return "", cerrors.Authentication("no active session")
	}
	return userID, nil
}

// holdKeys install the in-memory key pair for this session
func (m *keyManager) holdKeys(pair models.DerivedKeyPair) {
	m.keyLock.Lock()
	defer m.keyLock.Unlock()
	m.current = &pair
}

/*
InitializeKeys first-time key setup for a user with no key records

	@param ctx context.Context - execution context
	@param password string - the user password
*/
func (m *keyManager) InitializeKeys(ctx context.Context, password string) error {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return err
	}

	// Only valid when no key records exist yet
	existing, err := m.fetchCurrentKeyRecord(ctx, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return cerrors.Validation("keys", "keys already initialized for this user")
	}

	salt, err := m.engine.GenerateSalt(ctx)
	if err != nil {
		return err
	}

	pair, err := m.engine.DeriveKeyPair(ctx, password, salt)
	if err != nil {
		return err
	}

	if dbErr := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordUserKey(
				dbCtx, userID, pair.PublicKeyJWK, base64.StdEncoding.EncodeToString(salt),
			)
			return err
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to publish key record for user %s", userID), dbErr,
		)
	}

	m.holdKeys(pair)

	log.WithFields(m.LogTags).WithField("user", userID).Info("Initialized encryption keys")

	return nil
}

/*
DeriveKeys re-derive the key pair on login and verify it

	@param ctx context.Context - execution context
	@param password string - the user password
*/
func (m *keyManager) DeriveKeys(ctx context.Context, password string) error {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return err
	}

	record, err := m.fetchCurrentKeyRecord(ctx, userID)
	if err != nil {
		return err
	}
	if record == nil {
		return cerrors.KeyDerivation(
			fmt.Sprintf("no key record published for user %s", userID), nil,
		)
	}
	if record.Salt == "" {
		// Legacy record predating salted derivation - the migration flow
		// handles these
		return cerrors.KeyDerivation(
			fmt.Sprintf("key record of user %s carries no salt", userID), nil,
		)
	}

	salt, err := base64.StdEncoding.DecodeString(record.Salt)
	if err != nil {
		return cerrors.KeyDerivation(
			fmt.Sprintf("key record of user %s carries an unreadable salt", userID), err,
		)
	}

	candidate, err := m.engine.DeriveKeyPair(ctx, password, salt)
	if err != nil {
		return err
	}

	// Wrong password yields a different pair; never silently proceed
	if !m.engine.VerifyPublicKey(candidate.PublicKeyJWK, record.PublicKey.Data()) {
		return cerrors.KeyMismatch("derived public key does not match the published key")
	}

	m.holdKeys(candidate)

	return nil
}

/*
GetCurrentKeys read the in-memory key pair. Pure memory read, no I/O.

	@return the pair, or nil when no keys are held
*/
func (m *keyManager) GetCurrentKeys() *models.DerivedKeyPair {
	m.keyLock.RLock()
	defer m.keyLock.RUnlock()
	return m.current
}

/*
ClearKeys drop the in-memory key pair
*/
func (m *keyManager) ClearKeys() {
	m.keyLock.Lock()
	defer m.keyLock.Unlock()
	m.current = nil
}

/*
NeedsMigration whether the user is a legacy account needing key migration

	@param ctx context.Context - execution context
	@return whether migration is required
*/
func (m *keyManager) NeedsMigration(ctx context.Context) (bool, error) {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return false, err
	}

	var records []models.UserKeyRecord
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			records, err = dbClient.ListUserKeys(dbCtx, userID, false)
			return err
		},
	); dbErr != nil {
		return false, cerrors.Connection(
			fmt.Sprintf("failed to list key records of user %s", userID), dbErr,
		)
	}

	// Brand-new users have no records at all; they need initialization,
	// not migration
	if len(records) == 0 {
		return false, nil
	}

	for _, record := range records {
		if record.Salt == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(record.Salt); err == nil {
			// At least one record is usable as-is
			return false, nil
		}
	}
	return true, nil
}

/*
HasKeys whether the user has any non-revoked key record

	@param ctx context.Context - execution context
	@return whether non-revoked records exist
*/
func (m *keyManager) HasKeys(ctx context.Context) (bool, error) {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return false, err
	}

	record, err := m.fetchCurrentKeyRecord(ctx, userID)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

/*
RotateKeys revoke all current key records and publish a fresh pair

	@param ctx context.Context - execution context
	@param password string - the user password
*/
func (m *keyManager) RotateKeys(ctx context.Context, password string) error {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return err
	}

	salt, err := m.engine.GenerateSalt(ctx)
	if err != nil {
		return err
	}

	pair, err := m.engine.DeriveKeyPair(ctx, password, salt)
	if err != nil {
		return err
	}

	// Revocation and republication share one transaction so the "at most one
	// current record" invariant holds even if the process dies mid-rotation
	if dbErr := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			revoked, err := dbClient.RevokeUserKeys(dbCtx, userID)
			if err != nil {
				return err
			}
			log.WithFields(m.LogTags).
				WithField("user", userID).
				WithField("revoked", revoked).
				Info("Revoked key records for rotation")
			_, err = dbClient.RecordUserKey(
				dbCtx, userID, pair.PublicKeyJWK, base64.StdEncoding.EncodeToString(salt),
			)
			return err
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to rotate key records of user %s", userID), dbErr,
		)
	}

	m.holdKeys(pair)

	return nil
}

/*
RevokeKeys mark all non-revoked key records revoked without replacement

	@param ctx context.Context - execution context
*/
func (m *keyManager) RevokeKeys(ctx context.Context) error {
	userID, err := m.requireUser(ctx)
	if err != nil {
		return err
	}

	if dbErr := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RevokeUserKeys(dbCtx, userID)
			return err
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to revoke key records of user %s", userID), dbErr,
		)
	}

	// Fail closed: without a published key there must be no usable pair in
	// memory either
	m.ClearKeys()

	return nil
}

/*
GetUserPublicKey fetch another user's latest non-revoked public key

	@param ctx context.Context - execution context
	@param userID string - the peer
	@return the public key, or nil when absent
*/
func (m *keyManager) GetUserPublicKey(
	ctx context.Context, userID string,
) (*models.PublicKeyJWK, error) {
	record, err := m.fetchCurrentKeyRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	jwk := record.PublicKey.Data()
	return &jwk, nil
}

// fetchCurrentKeyRecord read a user's latest non-revoked key record
func (m *keyManager) fetchCurrentKeyRecord(
	ctx context.Context, userID string,
) (*models.UserKeyRecord, error) {
	var record *models.UserKeyRecord
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			record, err = dbClient.GetCurrentUserKey(dbCtx, userID)
			return err
		},
	); dbErr != nil {
		return nil, cerrors.Connection(
			fmt.Sprintf("failed to fetch current key record of user %s", userID), dbErr,
		)
	}
	return record, nil
}
