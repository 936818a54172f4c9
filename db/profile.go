package db

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/models"
	"github.com/google/uuid"
)

// ======================================================================================
// User profiles

/*
CreateUserProfile define a new user profile

	@param ctx context.Context - execution context
	@param userID string - the user (hosted auth subject)
	@param displayName string - user facing name
	@returns the profile
*/
func (d *databaseImpl) CreateUserProfile(
	_ context.Context, userID string, displayName string,
) (models.UserProfile, error) {
	newEntry := UserProfileDBEntry{
		UserProfile: models.UserProfile{
			ID:          userID,
			DisplayName: displayName,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.UserProfile{}, fmt.Errorf(
			"new profile for user %s is not valid [%w]", userID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.UserProfile{}, fmt.Errorf(
			"new profile for user %s failed insert [%w]", userID, tmp.Error,
		)
	}

	return newEntry.UserProfile, nil
}

/*
GetUserProfile fetch a user profile

	@param ctx context.Context - execution context
	@param userID string - the user
	@returns the profile
*/
func (d *databaseImpl) GetUserProfile(
	_ context.Context, userID string,
) (models.UserProfile, error) {
	var entry UserProfileDBEntry
	if tmp := d.db.Where("id = ?", userID).First(&entry); tmp.Error != nil {
		return models.UserProfile{}, fmt.Errorf(
			"failed to fetch profile of user %s [%w]", userID, tmp.Error,
		)
	}

	return entry.UserProfile, nil
}

/*
DeleteUserProfile delete a user profile

	@param ctx context.Context - execution context
	@param userID string - the user
*/
func (d *databaseImpl) DeleteUserProfile(_ context.Context, userID string) error {
	var entry UserProfileDBEntry
	if tmp := d.db.Where("id = ?", userID).First(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to fetch profile of user %s [%w]", userID, tmp.Error)
	}

	// FK constraints cascade this to keys, conversations, messages,
	// and connections
	if tmp := d.db.Delete(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to delete profile of user %s [%w]", userID, tmp.Error)
	}

	return nil
}

// ======================================================================================
// User connections

/*
CreateUserConnection record a relationship between two users

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param peerID string - the connected user
	@param status models.ConnectionStatusENUMType - connection status
	@returns the connection
*/
func (d *databaseImpl) CreateUserConnection(
	_ context.Context, userID string, peerID string, status models.ConnectionStatusENUMType,
) (models.UserConnection, error) {
	newEntry := UserConnectionDBEntry{
		UserConnection: models.UserConnection{
			ID:     uuid.NewString(),
			UserID: userID,
			PeerID: peerID,
			Status: status,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.UserConnection{}, fmt.Errorf(
			"new connection %s -> %s is not valid [%w]", userID, peerID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.UserConnection{}, fmt.Errorf(
			"new connection %s -> %s failed insert [%w]", userID, peerID, tmp.Error,
		)
	}

	return newEntry.UserConnection, nil
}

/*
ListUserConnections list a user's connections

	@param ctx context.Context - execution context
	@param userID string - the user
	@return connections, newest first
*/
func (d *databaseImpl) ListUserConnections(
	_ context.Context, userID string,
) ([]models.UserConnection, error) {
	var entries []UserConnectionDBEntry
	if tmp := d.db.
		Model(&UserConnectionDBEntry{}).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list connections of user %s [%w]", userID, tmp.Error)
	}

	result := []models.UserConnection{}
	for _, entry := range entries {
		result = append(result, entry.UserConnection)
	}

	return result, nil
}
