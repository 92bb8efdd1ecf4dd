package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt verifies $2a$, $2b$ and $2y$ digests imported from other systems.
type Bcrypt struct{}

func (Bcrypt) Recognizes(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

func (Bcrypt) Verify(password, encodedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
}
