// Package datastore provides durable storage for users, rooms, memberships,
// messages and invite tokens.
package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

var (
	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("datastore: username already exists")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("datastore: not found")
)

// Gateway is the persistence interface the chat server depends on.
// Implementations include the SQL store (SQLite or PostgreSQL) and an
// in-memory store for tests. All methods are safe for concurrent use.
type Gateway interface {
	UserProvider
	RoomProvider
	MessageProvider
	InviteProvider

	Close() error
}

// Compile-time checks.
var (
	_ Gateway = (*SQLStore)(nil)
	_ Gateway = (*MemoryStore)(nil)
)

type UserProvider interface {
	// CreateUser inserts a user with an encoded password hash. It returns
	// ErrUserExists if the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error)
	// FetchStoredHash returns the encoded password hash or ErrNotFound.
	FetchStoredHash(ctx context.Context, username string) (string, error)
}

type RoomProvider interface {
	EnsureRoom(ctx context.Context, name string) error
	IsRoom(ctx context.Context, name string) (bool, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	// AddMembership records that username belongs to room. Unknown users or
	// rooms are ignored.
	AddMembership(ctx context.Context, username, room string) error
	RemoveMembership(ctx context.Context, username, room string) error
	ListRoomMembers(ctx context.Context, room string) ([]string, error)
}

type MessageProvider interface {
	SaveMessage(ctx context.Context, message *model.Message) error
	// FetchHistory returns up to limit messages, newest first. If target is a
	// known room, room messages are returned; otherwise direct messages
	// between username and target in either direction.
	FetchHistory(ctx context.Context, username, target string, limit int) ([]model.Message, error)
}

type InviteProvider interface {
	// CreateInvite stores an unused invite identified by its token hash.
	CreateInvite(ctx context.Context, hash string) error
	// RedeemInvite atomically marks an unused invite as used. It reports
	// false for unknown or already used invites.
	RedeemInvite(ctx context.Context, hash string) (bool, error)
	CountInvites(ctx context.Context) (int, error)
}
