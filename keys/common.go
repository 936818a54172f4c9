// Package keys - key lifecycle management
package keys

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

/*
Manager the key lifecycle manager. It exclusively owns the session's in-memory
derived key pair.

The pair exists only in volatile process memory for the duration of the
authenticated session - it is a correctness invariant that it is never written
to any durable local store. No other component may mutate it.
*/
type Manager interface {
	/*
		InitializeKeys first-time key setup for a user with no key records

		Generates a fresh salt, derives the pair, publishes {public key, salt}
		remotely, and holds the pair in memory.

			@param ctx context.Context - execution context
	*/
	InitializeKeys(ctx context.Context, password string) error

	/*
		DeriveKeys re-derive the key pair on login and verify it

		The candidate public key is compared structurally against the published
		one. A mismatch means a wrong password and must never silently proceed.

			@param ctx context.Context - execution context
			@param password string - the user password
	*/
	DeriveKeys(ctx context.Context, password string) error

	/*
		GetCurrentKeys read the in-memory key pair. Pure memory read, no I/O.

			@return the pair, or nil when no keys are held
	*/
	GetCurrentKeys() *models.DerivedKeyPair

	/*
		ClearKeys drop the in-memory key pair

		Called on logout; the only correct way to end a session's key lifetime.
		After this no code path can reuse stale keys when a different user signs
		in on the same process.
	*/
	ClearKeys()

	/*
		NeedsMigration whether the user is a legacy account needing key migration

		True only when at least one non-revoked key record exists but none
		carries a valid salt. Brand-new users (no records at all) get false -
		they need initialization instead, and the two flows route differently.

			@param ctx context.Context - execution context
			@return whether migration is required
	*/
	NeedsMigration(ctx context.Context) (bool, error)

	/*
		HasKeys whether the user has any non-revoked key record

		Revoked records do not count.

			@param ctx context.Context - execution context
			@return whether non-revoked records exist
	*/
	HasKeys(ctx context.Context) (bool, error)

	/*
		RotateKeys revoke all current key records and publish a fresh pair

		Rotation is forward-only: messages encrypted under the old key pair
		remain undecryptable with the new one. This is a documented limitation,
		not a bug.

			@param ctx context.Context - execution context
			@param password string - the user password
	*/
	RotateKeys(ctx context.Context, password string) error

	/*
		RevokeKeys mark all non-revoked key records revoked without replacement

		Subsequent sends and reads fail closed until new keys are established.

			@param ctx context.Context - execution context
	*/
	RevokeKeys(ctx context.Context) error

	/*
		GetUserPublicKey fetch another user's latest non-revoked public key

		Absence (the peer never initialized keys) is an expected precondition,
		returned as nil rather than an error, and distinct from a connection
		failure.

			@param ctx context.Context - execution context
			@param userID string - the peer
			@return the public key, or nil when absent
	*/
	GetUserPublicKey(ctx context.Context, userID string) (*models.PublicKeyJWK, error)
}

// keyManager implements Manager
type keyManager struct {
	goutils.Component

	persistence db.Client
	engine      encryption.Engine
	session     session.Provider
	validator   *validator.Validate

	keyLock sync.RWMutex
	current *models.DerivedKeyPair
}

// ManagerParams key lifecycle manager init parameters
type ManagerParams struct {
	// Persistence remote store client
	Persistence db.Client `validate:"required"`
	// Engine cryptography engine
	Engine encryption.Engine `validate:"required"`
	// Session hosted auth session boundary
	Session session.Provider `validate:"required"`
}

/*
NewManager define new key lifecycle manager

	@param params ManagerParams - manager parameters
	@returns manager instance
*/
func NewManager(params ManagerParams) (Manager, error) {
	logTags := log.Fields{"module": "keys", "component": "key-manager"}

	instance := &keyManager{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		engine:      params.Engine,
		session:     params.Session,
		validator:   validator.New(),
	}

	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid manager init parameters [%w]", err)
	}

	return instance, nil
}
