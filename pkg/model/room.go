package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxRoomNameLength = 64

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = fmt.Errorf("room name must not exceed %d characters", MaxRoomNameLength)
var ErrRoomNameInvalidChars = errors.New("room name must not contain control characters")

// ValidateRoomName checks that a room name is non-blank, at most 64 runes and
// free of control characters.
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrRoomNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrRoomNameInvalidChars
		}
	}
	return nil
}
