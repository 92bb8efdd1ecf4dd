package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// TokenSize is the number of random bytes behind a session token.
	TokenSize = 32

	minOTPDigits = 4
	maxOTPDigits = 10
)

// otpSpace[n] is 10^n.
var otpSpace = func() [maxOTPDigits + 1]*big.Int {
	var out [maxOTPDigits + 1]*big.Int
	for n := range out {
		out[n] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	}
	return out
}()

// NewToken returns TokenSize random bytes encoded as unpadded base64url.
func NewToken() (string, error) {
	raw := make([]byte, TokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashSecret is the digest stores key on instead of the plaintext secret.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// NewOTP returns a uniformly drawn code of exactly digits decimal digits,
// leading zeros included.
func NewOTP(digits int) (string, error) {
	if digits < minOTPDigits || digits > maxOTPDigits {
		return "", fmt.Errorf("otp digits must be in [%d, %d], got %d", minOTPDigits, maxOTPDigits, digits)
	}
	n, err := rand.Int(rand.Reader, otpSpace[digits])
	if err != nil {
		return "", fmt.Errorf("draw otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// IsNumericCode reports whether code is exactly digits ASCII digits.
func IsNumericCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for _, c := range []byte(code) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
