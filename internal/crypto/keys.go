package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfSalt separates the at-rest storage key from any other use of the
// operator-provided master key.
var hkdfSalt = []byte("moltbot/credential-at-rest/v1")

// DeriveStorageKey derives the AES-256 at-rest key from the operator master
// key (64 hex chars) via HKDF-SHA256.
func DeriveStorageKey(masterKeyHex string) ([32]byte, error) {
	var key [32]byte

	raw, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return key, fmt.Errorf("decode master key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("master key must be 32 bytes (64 hex chars), got %d bytes", len(raw))
	}

	r := hkdf.New(sha256.New, raw, hkdfSalt, []byte("storage-key"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("derive storage key: %w", err)
	}
	return key, nil
}

// HashCredential returns the one-way SHA-256 hex digest of a raw credential.
// The raw value is never persisted; all stored comparisons use this digest.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
