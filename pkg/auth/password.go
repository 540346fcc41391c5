package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the only format constraint enforced before hashing.
const MinPasswordLength = 6

// ErrPasswordTooShort is returned for plaintexts under MinPasswordLength.
var ErrPasswordTooShort = errors.New("Password must be at least 6 characters")

// HashPassword returns a bcrypt hash of the password. Each call salts
// freshly, so the same plaintext never produces the same hash twice.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a stored bcrypt hash.
// A mismatch returns false, never an error.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the pre-hash password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
