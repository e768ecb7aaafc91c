// Package model defines the core domain types for roomchat.
package model

import "time"

// Room is a named broadcast group as persisted by the store.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Invite is a single-use registration token. Only the SHA-256 hash of the
// raw token is ever stored.
type Invite struct {
	ID        int64     `json:"id"`
	Hash      string    `json:"-"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"used_at"` // zero while unused
	CreatedAt time.Time `json:"created_at"`
}
