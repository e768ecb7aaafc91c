package model

import (
	"errors"
	"fmt"
	"time"
)

// MaxUsernameLength bounds usernames in bytes. Only ASCII is accepted, so
// bytes and characters coincide.
const MaxUsernameLength = 32

var (
	ErrUsernameEmpty        = errors.New("username must not be empty")
	ErrUsernameTooLong      = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
	ErrUsernameInvalidChars = errors.New("username may only use letters, digits, '_' and '-'")
)

// User is a registered account. PasswordHash holds the encoded credential
// produced by a crypto.Verifier and never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func isUsernameByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '-'
}

// ValidateUsername accepts 1 to 32 characters of [A-Za-z0-9_-].
func ValidateUsername(name string) error {
	switch {
	case name == "":
		return ErrUsernameEmpty
	case len(name) > MaxUsernameLength:
		return ErrUsernameTooLong
	}
	for i := 0; i < len(name); i++ {
		if !isUsernameByte(name[i]) {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
