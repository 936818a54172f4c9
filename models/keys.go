// Package models - system data models
package models

import (
	"crypto/ecdh"
	"encoding/base64"
	"time"

	"gorm.io/datatypes"
)

// PublicKeyJWK structured representation of an EC public key
//
// Comparison of two keys must be structural (component by component), since
// serialized forms may differ in encoding order.
type PublicKeyJWK struct {
	// Kty key type. Always "EC" for this system
	Kty string `json:"kty" validate:"required,oneof=EC"`
	// Crv the elliptic curve. Always "P-256" for this system
	Crv string `json:"crv" validate:"required,oneof=P-256"`
	// X base64url (unpadded) affine X coordinate
	X string `json:"x" validate:"required"`
	// Y base64url (unpadded) affine Y coordinate
	Y string `json:"y" validate:"required"`
}

/*
Equal structural equality of the public key components

	@param other PublicKeyJWK - the key to compare against
	@return whether the two keys describe the same point
*/
func (k PublicKeyJWK) Equal(other PublicKeyJWK) bool {
	if k.Kty != other.Kty || k.Crv != other.Crv {
		return false
	}
	// Decode before comparing so differing base64 variants of the same
	// coordinate still match
	kx, err1 := base64.RawURLEncoding.DecodeString(k.X)
	ox, err2 := base64.RawURLEncoding.DecodeString(other.X)
	ky, err3 := base64.RawURLEncoding.DecodeString(k.Y)
	oy, err4 := base64.RawURLEncoding.DecodeString(other.Y)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return string(kx) == string(ox) && string(ky) == string(oy)
}

// UserKeyRecord one issued key pair epoch for a user
//
// At most one non-revoked record is "current" per user, selected by latest
// CreatedAt. Revoked records accumulate as rotation history and are only
// physically removed on account erasure.
type UserKeyRecord struct {
	// ID record ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// UserID the owning user
	UserID string `json:"user_id" gorm:"column:user_id;not null;index" validate:"required"`

	// PublicKey the published public key component
	PublicKey datatypes.JSONType[PublicKeyJWK] `json:"public_key" gorm:"column:public_key;not null"`

	// Salt base64 encoded random salt of this key epoch. Legacy records may
	// carry an empty salt; those are what the migration flow detects.
	Salt string `json:"salt" gorm:"column:salt" validate:"omitempty,base64"`

	// Revoked whether this record has been rotated or revoked out
	Revoked bool `json:"revoked" gorm:"column:revoked;not null;default:false"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// DerivedKeyPair a password-derived key pair held only in process memory
//
// This structure must never be written to any durable local store. The key
// lifecycle manager exclusively owns the one live instance per session.
type DerivedKeyPair struct {
	// PrivateKey the EC private key handle
	PrivateKey *ecdh.PrivateKey
	// PublicKeyJWK the exportable public component
	PublicKeyJWK PublicKeyJWK
	// Salt the raw salt bytes used to derive this pair
	Salt []byte
}
