package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains dot", "user.name", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "general", nil},
		{"spaces inside", "rust fans", nil},
		{"unicode", "café", nil},
		{"max length", strings.Repeat("r", MaxRoomNameLength), nil},
		{"empty", "", ErrRoomNameEmpty},
		{"blank", "   ", ErrRoomNameEmpty},
		{"too long", strings.Repeat("r", MaxRoomNameLength+1), ErrRoomNameTooLong},
		{"escape sequence", "room\x1b[31m", ErrRoomNameInvalidChars},
		{"tab", "a\tb", ErrRoomNameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRoomName(tt.input); err != tt.wantErr {
				t.Errorf("ValidateRoomName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"room message", Message{Sender: "alice", Receiver: "general", IsRoom: true, Text: "hi"}, nil},
		{"direct message", Message{Sender: "alice", Receiver: "bob", Text: "hi"}, nil},
		{"no sender", Message{Receiver: "bob", Text: "hi"}, ErrMessageNoEndpoint},
		{"no receiver", Message{Sender: "alice", Text: "hi"}, ErrMessageNoEndpoint},
		{"blank text", Message{Sender: "alice", Receiver: "bob", Text: " \t"}, ErrMessageTextEmpty},
		{"too long", Message{Sender: "alice", Receiver: "bob", Text: strings.Repeat("x", MessageMaxTextLength+1)}, ErrMessageTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
