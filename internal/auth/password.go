package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 150
	minPasswordLen = 6
)

// dummyHash is compared against when the username is unknown so that login
// latency does not reveal which accounts exist.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dmchat-dummy-password"), bcrypt.MinCost)

// normalizeUsername trims and validates a username: letters, digits and @.+-_ only.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if n := len([]rune(username)); n < minUsernameLen || n > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r) {
			continue
		}
		return "", ErrInvalidUsername
	}
	return username, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the bcrypt hash. An empty hash
// is checked against a dummy so both paths cost the same.
func ComparePassword(hashedPassword, password string) bool {
	if hashedPassword == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
