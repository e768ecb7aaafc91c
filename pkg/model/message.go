package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxTextLength = 4000

var ErrMessageTextTooLong = fmt.Errorf("message text exceeds %d characters", MessageMaxTextLength)
var ErrMessageTextEmpty = errors.New("message text cannot be empty")
var ErrMessageNoEndpoint = errors.New("message sender and receiver are required")

// Message is a room or direct message. Receiver is a room name when IsRoom
// is set and a username otherwise.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	IsRoom    bool      `json:"is_room"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Validate() error {
	if m.Sender == "" || m.Receiver == "" {
		return ErrMessageNoEndpoint
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrMessageTextEmpty
	} else if utf8.RuneCountInString(m.Text) > MessageMaxTextLength {
		return ErrMessageTextTooLong
	}

	return nil
}
