package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/models"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfoSharedSecret domain separation label for pairwise message keys
const hkdfInfoSharedSecret = "confide-message-key"

/*
DeriveSharedSecret standard ECDH agreement

	@param ctx context.Context - execution context
	@param private *ecdh.PrivateKey - the caller's private key
	@param peer models.PublicKeyJWK - the peer's public key
	@returns the symmetric key
*/
func (e *cryptoEngine) DeriveSharedSecret(
	_ context.Context, private *ecdh.PrivateKey, peer models.PublicKeyJWK,
) (SymmetricKey, error) {
	if private == nil {
		return nil, cerrors.Encryption("no private key available for agreement", nil)
	}

	peerKey, err := publicKeyFromJWK(e.curve, peer)
	if err != nil {
		return nil, cerrors.Encryption("peer public key rejected", err)
	}

	shared, err := private.ECDH(peerKey)
	if err != nil {
		return nil, cerrors.Encryption("ECDH agreement failed", err)
	}

	// Expand the raw agreement output into a uniform AES key
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfoSharedSecret))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, cerrors.Encryption("shared secret expansion failed", err)
	}

	return SymmetricKey(key), nil
}

// newAEAD prepare AES-GCM over a shared secret
func newAEAD(secret SymmetricKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("cipher setup failed [%w]", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("AEAD setup failed [%w]", err)
	}
	return aead, nil
}

/*
EncryptMessage authenticated symmetric encryption with a fresh random IV

	@param ctx context.Context - execution context
	@param plainText []byte - the content to encrypt
	@param secret SymmetricKey - the shared secret
	@returns ciphertext and IV
*/
func (e *cryptoEngine) EncryptMessage(
	_ context.Context, plainText []byte, secret SymmetricKey,
) (EncryptedData, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return EncryptedData{}, cerrors.Encryption("failed to prepare AEAD", err)
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(e.rng, iv); err != nil {
		return EncryptedData{}, cerrors.Encryption("failed to generate IV", err)
	}

	cipherText := aead.Seal(nil, iv, plainText, nil)

	return EncryptedData{CipherText: cipherText, IV: iv}, nil
}

/*
DecryptMessage decrypt and authenticate ciphertext

	@param ctx context.Context - execution context
	@param encrypted EncryptedData - ciphertext and IV
	@param secret SymmetricKey - the shared secret
	@returns the plaintext
*/
func (e *cryptoEngine) DecryptMessage(
	_ context.Context, encrypted EncryptedData, secret SymmetricKey,
) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, cerrors.Encryption("failed to prepare AEAD", err)
	}

	if len(encrypted.IV) != aead.NonceSize() {
		return nil, cerrors.Encryption(
			fmt.Sprintf("IV length %d does not match AEAD nonce size", len(encrypted.IV)), nil,
		)
	}

	plainText, err := aead.Open(nil, encrypted.IV, encrypted.CipherText, nil)
	if err != nil {
		return nil, cerrors.Encryption("failed to decrypt cipher text", err)
	}

	return plainText, nil
}
