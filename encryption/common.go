// Package encryption - cryptographic engine for the messaging core
package encryption

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/alwitt/confide/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// SymmetricKey an ECDH-agreed symmetric key, scoped to one sender/recipient pair
type SymmetricKey []byte

// EncryptedData ciphertext together with the IV needed to decrypt it
type EncryptedData struct {
	// CipherText the authenticated ciphertext
	CipherText []byte
	// IV the initialization vector used. Not secret, but must never repeat
	// under the same key.
	IV []byte
}

/*
Engine the system's cryptography engine. It is solely responsible for all
cryptographic operations in the system.

The rest of the system must not touch key material directly; key derivation,
key agreement, and message encryption all go through this interface.
*/
type Engine interface {
	/*
		GenerateSalt generate a fresh random salt for one key-pair epoch

			@param ctx context.Context - execution context
			@returns the salt bytes
	*/
	GenerateSalt(ctx context.Context) ([]byte, error)

	/*
		DeriveKeyPair derive a deterministic EC key pair from a password and salt

		The same (password, salt) input always yields the same public key; the
		verify-on-login flow depends on this.

			@param ctx context.Context - execution context
			@param password string - the user password
			@param salt []byte - the stored random salt
			@returns the derived key pair
	*/
	DeriveKeyPair(ctx context.Context, password string, salt []byte) (models.DerivedKeyPair, error)

	/*
		VerifyPublicKey structural equality of two public keys

			@param candidate models.PublicKeyJWK - the freshly derived key
			@param stored models.PublicKeyJWK - the previously published key
			@returns whether the two keys match
	*/
	VerifyPublicKey(candidate models.PublicKeyJWK, stored models.PublicKeyJWK) bool

	/*
		DeriveSharedSecret standard ECDH agreement

		The output key is only valid for one sender/recipient pair's traffic.

			@param ctx context.Context - execution context
			@param private *ecdh.PrivateKey - the caller's private key
			@param peer models.PublicKeyJWK - the peer's public key
			@returns the symmetric key
	*/
	DeriveSharedSecret(
		ctx context.Context, private *ecdh.PrivateKey, peer models.PublicKeyJWK,
	) (SymmetricKey, error)

	/*
		EncryptMessage authenticated symmetric encryption with a fresh random IV

			@param ctx context.Context - execution context
			@param plainText []byte - the content to encrypt
			@param secret SymmetricKey - the shared secret
			@returns ciphertext and IV
	*/
	EncryptMessage(ctx context.Context, plainText []byte, secret SymmetricKey) (EncryptedData, error)

	/*
		DecryptMessage decrypt and authenticate ciphertext

		Fails on tamper, wrong key, or corrupt IV. Callers must treat this as an
		expected condition (e.g. a message encrypted under a rotated-out key) and
		degrade to a placeholder.

			@param ctx context.Context - execution context
			@param encrypted EncryptedData - ciphertext and IV
			@param secret SymmetricKey - the shared secret
			@returns the plaintext
	*/
	DecryptMessage(ctx context.Context, encrypted EncryptedData, secret SymmetricKey) ([]byte, error)
}

// Argon2Params memory-hard password hash tuning
type Argon2Params struct {
	// Time number of passes
	Time uint32 `validate:"required,gte=1"`
	// MemoryKiB memory cost in KiB
	MemoryKiB uint32 `validate:"required,gte=8192"`
	// Threads parallelism degree
	Threads uint8 `validate:"required,gte=1"`
}

// DefaultArgon2Params tuning used in production
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// EngineParams cryptography engine init parameters
type EngineParams struct {
	// Argon2 password hash tuning
	Argon2 Argon2Params `validate:"required"`
	// SaltLength salt length in bytes
	SaltLength int `validate:"required,gte=16"`
	// RNG randomness source. Defaults to crypto/rand; only tests substitute
	// a deterministic reader.
	RNG io.Reader `validate:"-"`
}

// DefaultEngineParams engine parameters used in production
func DefaultEngineParams() EngineParams {
	return EngineParams{Argon2: DefaultArgon2Params(), SaltLength: 16}
}

// cryptoEngine implements Engine
type cryptoEngine struct {
	goutils.Component

	argon2   Argon2Params
	saltLen  int
	rng      io.Reader
	curve    ecdh.Curve
	validate *validator.Validate
}

/*
NewEngine define new cryptography engine

	@param params EngineParams - engine parameters
	@returns engine instance
*/
func NewEngine(params EngineParams) (Engine, error) {
	logTags := log.Fields{"module": "encryption", "component": "crypto-engine"}

	instance := &cryptoEngine{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		argon2:   params.Argon2,
		saltLen:  params.SaltLength,
		rng:      params.RNG,
		curve:    ecdh.P256(),
		validate: validator.New(),
	}
	if instance.rng == nil {
		instance.rng = rand.Reader
	}

	if err := instance.validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid engine init parameters [%w]", err)
	}

	return instance, nil
}
