package encryption

import (
	"context"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfoKeyPair domain separation label for password-derived EC keys
const hkdfInfoKeyPair = "confide-p256-identity-key"

// maxScalarAttempts bound on rejection sampling when mapping seed material
// onto a valid P-256 scalar. The acceptance probability per draw is close to
// one; hitting this bound indicates a broken KDF stream, not bad luck.
const maxScalarAttempts = 64

/*
GenerateSalt generate a fresh random salt for one key-pair epoch

	@param ctx context.Context - execution context
	@returns the salt bytes
*/
func (e *cryptoEngine) GenerateSalt(_ context.Context) ([]byte, error) {
	salt := make([]byte, e.saltLen)
	if n, err := io.ReadFull(e.rng, salt); err != nil {
		return nil, cerrors.KeyDerivation(
			fmt.Sprintf("failed to read %d bytes from RNG", e.saltLen), err,
		)
	} else if n != e.saltLen {
		return nil, cerrors.KeyDerivation(
			fmt.Sprintf("did not get %d bytes from RNG, only %d", e.saltLen, n), nil,
		)
	}
	return salt, nil
}

/*
DeriveKeyPair derive a deterministic EC key pair from a password and salt

	@param ctx context.Context - execution context
	@param password string - the user password
	@param salt []byte - the stored random salt
	@returns the derived key pair
*/
func (e *cryptoEngine) DeriveKeyPair(
	_ context.Context, password string, salt []byte,
) (models.DerivedKeyPair, error) {
	if len(salt) == 0 {
		return models.DerivedKeyPair{}, cerrors.KeyDerivation("no salt provided", nil)
	}

	// Memory-hard hash of the password down to fixed seed material
	seed := argon2.IDKey(
		[]byte(password), salt, e.argon2.Time, e.argon2.MemoryKiB, e.argon2.Threads, 32,
	)

	// Map the seed onto a valid curve scalar. Rejection sampling over the
	// HKDF stream keeps the (password, salt) -> public key mapping
	// deterministic.
	kdf := hkdf.New(sha256.New, seed, salt, []byte(hkdfInfoKeyPair))
	var private *ecdh.PrivateKey
	candidate := make([]byte, 32)
	for attempt := 0; attempt < maxScalarAttempts; attempt++ {
		if _, err := io.ReadFull(kdf, candidate); err != nil {
			return models.DerivedKeyPair{}, cerrors.KeyDerivation("KDF stream read failed", err)
		}
		key, err := e.curve.NewPrivateKey(candidate)
		if err == nil {
			private = key
			break
		}
	}
	if private == nil {
		return models.DerivedKeyPair{}, cerrors.KeyDerivation(
			fmt.Sprintf("no valid curve scalar after %d attempts", maxScalarAttempts), nil,
		)
	}

	publicJWK, err := jwkFromPublicKey(private.PublicKey())
	if err != nil {
		return models.DerivedKeyPair{}, cerrors.KeyDerivation("public key export failed", err)
	}

	saltCopy := make([]byte, len(salt))
	copy(saltCopy, salt)

	return models.DerivedKeyPair{
		PrivateKey:   private,
		PublicKeyJWK: publicJWK,
		Salt:         saltCopy,
	}, nil
}

/*
VerifyPublicKey structural equality of two public keys

	@param candidate models.PublicKeyJWK - the freshly derived key
	@param stored models.PublicKeyJWK - the previously published key
	@returns whether the two keys match
*/
func (e *cryptoEngine) VerifyPublicKey(
	candidate models.PublicKeyJWK, stored models.PublicKeyJWK,
) bool {
	return candidate.Equal(stored)
}

// jwkFromPublicKey export an EC public key as its structured components
func jwkFromPublicKey(public *ecdh.PublicKey) (models.PublicKeyJWK, error) {
	// Uncompressed point encoding: 0x04 || X || Y
	raw := public.Bytes()
	if len(raw) != 65 || raw[0] != 0x04 {
		return models.PublicKeyJWK{}, fmt.Errorf("unexpected public key encoding (%d bytes)", len(raw))
	}
	return models.PublicKeyJWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(raw[1:33]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[33:65]),
	}, nil
}

// publicKeyFromJWK reassemble an EC public key from its structured components
func publicKeyFromJWK(curve ecdh.Curve, jwk models.PublicKeyJWK) (*ecdh.PublicKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("unsupported key type %s/%s", jwk.Kty, jwk.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("bad X coordinate [%w]", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("bad Y coordinate [%w]", err)
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, fmt.Errorf("bad coordinate lengths %d/%d", len(x), len(y))
	}
	raw := make([]byte, 0, 65)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	raw = append(raw, y...)
	return curve.NewPublicKey(raw)
}
