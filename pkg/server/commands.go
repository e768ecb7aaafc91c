package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var authenticatedCmds = map[string]bool{
	protocol.CmdJoin:    true,
	protocol.CmdLeave:   true,
	protocol.CmdRooms:   true,
	protocol.CmdMsg:     true,
	protocol.CmdPM:      true,
	protocol.CmdHistory: true,
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// execute runs one parsed command for sess. Errors of type *CommandError are
// user-facing; anything else is an internal failure.
func (s *Server) execute(ctx context.Context, sess *Session, cmd *protocol.Command) (protocol.Event, error) {
	switch cmd.Cmd {
	case protocol.CmdRegister:
		return s.handleRegister(ctx, sess, cmd.Username, cmd.Password, cmd.Token)
	case protocol.CmdLogin:
		return s.handleLogin(ctx, sess, cmd.Username, cmd.Password)
	}

	if !authenticatedCmds[cmd.Cmd] {
		return nil, errUnknownCmd(cmd.Cmd)
	}
	user := sess.Username()
	if user == "" {
		return nil, errAuthRequired
	}

	switch cmd.Cmd {
	case protocol.CmdJoin:
		return s.handleJoin(ctx, sess, user, cmd.Room)
	case protocol.CmdLeave:
		return s.handleLeave(ctx, sess, user, cmd.Room)
	case protocol.CmdRooms:
		return protocol.Rooms(s.registry.RoomNames()), nil
	case protocol.CmdMsg:
		return s.handleMsg(ctx, sess, user, cmd.Room, cmd.Text)
	case protocol.CmdPM:
		return s.handlePM(ctx, user, cmd.To, cmd.Text)
	case protocol.CmdHistory:
		return s.handleHistory(ctx, user, cmd.Target, cmd.Limit)
	default:
		return nil, errUnknownCmd(cmd.Cmd)
	}
}

func (s *Server) handleRegister(ctx context.Context, sess *Session, username, password, token string) (protocol.Event, error) {
	if blank(username) || blank(password) || blank(token) {
		return nil, errRegisterArgs
	}
	if err := model.ValidateUsername(username); err != nil {
		return nil, errValidation(err)
	}

	ok, err := s.store.RedeemInvite(ctx, crypto.HashToken(token))
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		return nil, fmt.Errorf("redeem invite: %w", err)
	}
	if !ok {
		s.metrics.FailedAuths.Add(1)
		return nil, errBadInvite
	}

	// The invite stays spent even if the username turns out to be taken.
	hash, err := s.verifier.Hash([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.CreateUser(ctx, username, hash); err != nil {
		s.metrics.FailedAuths.Add(1)
		if errors.Is(err, datastore.ErrUserExists) {
			return nil, errUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.authenticate(sess, username)
	slog.Info("user registered", "session", sess.ID(), "user", username)
	return protocol.OK("Registered & logged in"), nil
}

func (s *Server) handleLogin(ctx context.Context, sess *Session, username, password string) (protocol.Event, error) {
	if blank(username) || blank(password) {
		return nil, errLoginArgs
	}

	stored, err := s.store.FetchStoredHash(ctx, username)
	if errors.Is(err, datastore.ErrNotFound) {
		s.metrics.FailedAuths.Add(1)
		return nil, errBadCreds
	}
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}
	if !s.verifier.Verify(stored, []byte(password)) {
		s.metrics.FailedAuths.Add(1)
		slog.Debug("login rejected", "session", sess.ID(), "user", username)
		return nil, errBadCreds
	}

	s.authenticate(sess, username)
	slog.Info("user logged in", "session", sess.ID(), "user", username)
	return protocol.OK("Logged in"), nil
}

// authenticate binds username to sess and makes sess the live session for
// that name. An older session for the same name stays open but is no longer
// reachable by name.
func (s *Server) authenticate(sess *Session, username string) {
	if prev := sess.setUsername(username); prev != "" && prev != username {
		s.registry.Unregister(prev, sess)
	}
	if old := s.registry.Register(username, sess); old != nil {
		slog.Info("session superseded", "user", username, "old", old.ID(), "new", sess.ID())
	}
	s.metrics.SuccessfulAuths.Add(1)
}

func (s *Server) handleJoin(ctx context.Context, sess *Session, user, name string) (protocol.Event, error) {
	if blank(name) {
		return nil, errRoomRequired
	}
	if err := model.ValidateRoomName(name); err != nil {
		return nil, errValidation(err)
	}

	room := s.registry.EnsureRoom(name)
	if err := s.store.EnsureRoom(ctx, name); err != nil {
		slog.Warn("persist room", "room", name, "err", err)
	}
	room.add(sess)
	sess.joined[name] = room
	if err := s.store.AddMembership(ctx, user, name); err != nil {
		slog.Warn("persist membership", "user", user, "room", name, "err", err)
	}
	s.metrics.Joins.Add(1)

	s.router.Broadcast(room, sess, protocol.Notice("["+name+"] "+user+" has joined"))
	return protocol.OK("Joined " + name), nil
}

func (s *Server) handleLeave(ctx context.Context, sess *Session, user, name string) (protocol.Event, error) {
	room, ok := sess.joined[name]
	if !ok {
		return nil, errNotInRoom
	}
	room.remove(sess)
	delete(sess.joined, name)
	if err := s.store.RemoveMembership(ctx, user, name); err != nil {
		slog.Warn("persist leave", "user", user, "room", name, "err", err)
	}
	return protocol.OK("Left " + name), nil
}

func (s *Server) handleMsg(ctx context.Context, sess *Session, user, name, text string) (protocol.Event, error) {
	if _, ok := sess.joined[name]; !ok {
		return nil, errNotJoined
	}
	room, ok := s.registry.Room(name)
	if !ok {
		return nil, errRoomNotFound
	}
	if err := validateText(text); err != nil {
		return nil, err
	}
	msg := &model.Message{Sender: user, Receiver: name, IsRoom: true, Text: text}

	s.router.Broadcast(room, sess, protocol.Notice("["+name+"] "+user+": "+text))
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		slog.Warn("persist room message", "user", user, "room", name, "err", err)
	}
	s.metrics.RoomMessages.Add(1)
	return protocol.OK("Message sent"), nil
}

func (s *Server) handlePM(ctx context.Context, user, to, text string) (protocol.Event, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if !s.router.DeliverTo(to, protocol.Notice("[PM] "+user+": "+text)) {
		return nil, errUserOffline
	}
	msg := &model.Message{Sender: user, Receiver: to, Text: text}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		slog.Warn("persist private message", "user", user, "to", to, "err", err)
	}
	s.metrics.PrivateMessages.Add(1)
	return protocol.OK("PM sent"), nil
}

func validateText(text string) error {
	if blank(text) {
		return errTextRequired
	}
	if utf8.RuneCountInString(text) > model.MessageMaxTextLength {
		return errValidation(model.ErrMessageTextTooLong)
	}
	return nil
}

// clampLimit applies the history defaults: missing or non-positive means 50,
// anything above 500 is capped.
func clampLimit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return defaultHistoryLimit
	}
	if *limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return *limit
}

func (s *Server) handleHistory(ctx context.Context, user, target string, raw *protocol.Limit) (protocol.Event, error) {
	if blank(target) {
		return nil, errTargetMissing
	}
	var limit *int
	if raw != nil {
		n, err := raw.Int()
		if err != nil {
			return nil, errBadLimit
		}
		limit = &n
	}
	msgs, err := s.store.FetchHistory(ctx, user, target, clampLimit(limit))
	if err != nil {
		slog.Warn("fetch history", "user", user, "target", target, "err", err)
		msgs = nil
	}
	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, protocol.HistoryEntry{
			Sender:   m.Sender,
			Receiver: m.Receiver,
			Text:     m.Text,
			TS:       protocol.FormatTime(m.CreatedAt),
		})
	}
	h, kept := protocol.FitHistory(target, entries)
	if kept < len(entries) {
		slog.Debug("history trimmed to fit one record", "user", user, "target", target, "kept", kept, "found", len(entries))
	}
	return h, nil
}
