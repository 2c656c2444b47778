package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only reads the first 72 bytes of a password.
const maxPasswordBytes = 72

// HashPassword hashes a plaintext password with configured cost. Bytes past the
// 72nd are ignored.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword(passwordBytes(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), passwordBytes(plain))
}

// IsMismatch reports whether err came from a wrong password rather than a broken hash.
func IsMismatch(err error) bool {
	return errors.Is(err, bcrypt.ErrMismatchedHashAndPassword)
}

func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
