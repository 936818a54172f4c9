package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/confide/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ======================================================================================
// User encryption keys

/*
RecordUserKey publish a new key record for a user

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param publicKey models.PublicKeyJWK - the public key component
	@param salt string - base64 encoded salt of this key epoch
	@returns the key record
*/
func (d *databaseImpl) RecordUserKey(
	_ context.Context, userID string, publicKey models.PublicKeyJWK, salt string,
) (models.UserKeyRecord, error) {
	newEntry := UserKeyDBEntry{
		UserKeyRecord: models.UserKeyRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			PublicKey: datatypes.NewJSONType(publicKey),
			Salt:      salt,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.UserKeyRecord{}, fmt.Errorf(
			"new key record for user %s is not valid [%w]", userID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.UserKeyRecord{}, fmt.Errorf(
			"new key record for user %s failed insert [%w]", userID, tmp.Error,
		)
	}

	return newEntry.UserKeyRecord, nil
}

/*
GetCurrentUserKey fetch a user's latest non-revoked key record

	@param ctx context.Context - execution context
	@param userID string - the user
	@returns the record, or nil when the user has no non-revoked record
*/
func (d *databaseImpl) GetCurrentUserKey(
	_ context.Context, userID string,
) (*models.UserKeyRecord, error) {
	var entry UserKeyDBEntry
	tmp := d.db.
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Order("created_at desc").
		First(&entry)
	if tmp.Error != nil {
		// Absence is an expected precondition, not a failure
		if errors.Is(tmp.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch current key of user %s [%w]", userID, tmp.Error)
	}

	return &entry.UserKeyRecord, nil
}

/*
ListUserKeys list a user's key records

	@param ctx context.Context - execution context
	@param userID string - the user
	@param includeRevoked bool - whether revoked records are returned
	@return records, newest first
*/
func (d *databaseImpl) ListUserKeys(
	_ context.Context, userID string, includeRevoked bool,
) ([]models.UserKeyRecord, error) {
	query := d.db.Model(&UserKeyDBEntry{}).Where("user_id = ?", userID)
	if !includeRevoked {
		query = query.Where("revoked = ?", false)
	}
	query = query.Order("created_at desc")

	var entries []UserKeyDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list key records of user %s [%w]", userID, tmp.Error)
	}

	result := []models.UserKeyRecord{}
	for _, entry := range entries {
		result = append(result, entry.UserKeyRecord)
	}

	return result, nil
}

/*
RevokeUserKeys mark all of a user's non-revoked key records revoked

	@param ctx context.Context - execution context
	@param userID string - the user
	@return number of records revoked
*/
func (d *databaseImpl) RevokeUserKeys(_ context.Context, userID string) (int64, error) {
	tmp := d.db.
		Model(&UserKeyDBEntry{}).
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Update("revoked", true)
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to revoke key records of user %s [%w]", userID, tmp.Error)
	}

	return tmp.RowsAffected, nil
}

/*
DeleteUserKeys physically delete all of a user's key records

	@param ctx context.Context - execution context
	@param userID string - the user
*/
func (d *databaseImpl) DeleteUserKeys(_ context.Context, userID string) error {
	if tmp := d.db.
		Where("user_id = ?", userID).
		Delete(&UserKeyDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete key records of user %s [%w]", userID, tmp.Error)
	}

	return nil
}
