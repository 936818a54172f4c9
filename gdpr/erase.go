package gdpr

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/db"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/apex/log"
)

/*
DeleteUserAccount destroy the authenticated user's account

	@param ctx context.Context - execution context
*/
func (s *gdprService) DeleteUserAccount(ctx context.Context) error {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return err
	}

	logTags := log.WithFields(s.LogTags).WithField("user", userID)

	// Key material goes first so nothing later in the teardown can operate
	// on the account's ciphertext
	s.keys.ClearKeys()

	// Local queue and cache hold ciphertext and message metadata; wipe them
	// before touching the remote identity so a failed remote delete never
	// leaves a device copy of an account the user asked to erase
	if err := s.localStore.PurgeAll(ctx); err != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to purge local data for user %s", userID), err,
		)
	}
	logTags.Info("Purged device-local data")

	// The profile row anchors the remote data; deleting it cascades to
	// conversations, messages, and connections. Key records are removed
	// explicitly first, not left to the cascade.
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.DeleteUserKeys(dbCtx, userID); err != nil {
				return err
			}
			return dbClient.DeleteUserProfile(dbCtx, userID)
		},
	); dbErr != nil {
		return cerrors.Connection(
			fmt.Sprintf("failed to delete remote profile for user %s", userID), dbErr,
		)
	}
	logTags.Info("Deleted remote account data")

	if err := s.session.SignOut(ctx); err != nil {
		return cerrors.Authentication(fmt.Sprintf("failed to terminate session: %v", err))
	}
	logTags.Info("Account erasure complete")

	return nil
}
