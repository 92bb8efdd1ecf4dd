package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// LegacySHA256 verifies the unsalted lowercase hex SHA-256 digests stored by
// the previous portal. Accounts carrying one are rehashed on next login.
type LegacySHA256 struct{}

func (LegacySHA256) Recognizes(encodedHash string) bool {
	if len(encodedHash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(encodedHash)
	return err == nil
}

func (LegacySHA256) Verify(password, encodedHash string) bool {
	want, err := hex.DecodeString(strings.ToLower(encodedHash))
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
