package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// MemoryStore provides an in-memory Gateway implementation for tests.
// It mirrors SQLStore behavior for validation and error handling.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	nextUserID    int64
	nextRoomID    int64
	nextMessageID int64
	nextInviteID  int64

	users       map[string]*model.User
	rooms       map[string]*model.Room
	memberships map[string]map[string]struct{} // room -> usernames
	messages    []model.Message
	invites     map[string]*model.Invite
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:           now,
		nextUserID:    1,
		nextRoomID:    1,
		nextMessageID: 1,
		nextInviteID:  1,
		users:         make(map[string]*model.User),
		rooms:         make(map[string]*model.Room),
		memberships:   make(map[string]map[string]struct{}),
		invites:       make(map[string]*model.Invite),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("datastore: create user: empty password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return nil, ErrUserExists
	}
	u := &model.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().Truncate(time.Second),
	}
	s.nextUserID++
	s.users[username] = u

	clone := *u
	return &clone, nil
}

func (s *MemoryStore) FetchStoredHash(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return "", ErrNotFound
	}
	return u.PasswordHash, nil
}

func (s *MemoryStore) EnsureRoom(_ context.Context, name string) error {
	if err := model.ValidateRoomName(name); err != nil {
		return fmt.Errorf("datastore: ensure room: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[name]; ok {
		return nil
	}
	s.rooms[name] = &model.Room{ID: s.nextRoomID, Name: name, CreatedAt: s.now().Truncate(time.Second)}
	s.nextRoomID++
	return nil
}

func (s *MemoryStore) IsRoom(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rooms[name]
	return ok, nil
}

func (s *MemoryStore) ListRooms(_ context.Context) ([]model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, *r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (s *MemoryStore) AddMembership(_ context.Context, username, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return nil
	}
	if _, ok := s.rooms[room]; !ok {
		return nil
	}
	members, ok := s.memberships[room]
	if !ok {
		members = make(map[string]struct{})
		s.memberships[room] = members
	}
	members[username] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveMembership(_ context.Context, username, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memberships[room], username)
	return nil
}

func (s *MemoryStore) ListRoomMembers(_ context.Context, room string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name := range s.memberships[room] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}
	message.CreatedAt = message.CreatedAt.UTC().Truncate(time.Second)
	message.ID = s.nextMessageID
	s.nextMessageID++
	s.messages = append(s.messages, *message)
	return nil
}

func (s *MemoryStore) FetchHistory(_ context.Context, username, target string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, room := s.rooms[target]
	var out []model.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if room {
			if m.IsRoom && m.Receiver == target {
				out = append(out, m)
			}
			continue
		}
		if m.IsRoom {
			continue
		}
		if (m.Sender == username && m.Receiver == target) || (m.Sender == target && m.Receiver == username) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateInvite(_ context.Context, hash string) error {
	if hash == "" {
		return fmt.Errorf("datastore: create invite: empty hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invites[hash]; ok {
		return fmt.Errorf("datastore: create invite: duplicate hash")
	}
	s.invites[hash] = &model.Invite{ID: s.nextInviteID, Hash: hash, CreatedAt: s.now()}
	s.nextInviteID++
	return nil
}

func (s *MemoryStore) RedeemInvite(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[hash]
	if !ok || inv.Used {
		return false, nil
	}
	inv.Used = true
	inv.UsedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CountInvites(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.invites), nil
}
