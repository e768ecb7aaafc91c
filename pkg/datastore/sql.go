package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// DB is the query surface shared by *sql.DB and *sql.Tx.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name     string
	driver   string
	idColumn string
	dollar   bool // $1 placeholders instead of ?
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite", idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", idColumn: "BIGSERIAL PRIMARY KEY", dollar: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// conn binds a DB handle (plain or transactional) to a dialect.
type conn struct {
	db DB
	d  dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// SQLStore implements Gateway on top of database/sql.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// Open picks a backend from the DSN: postgres:// and postgresql:// URLs use
// PostgreSQL, anything else is treated as a SQLite file path.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgres(dsn)
	}
	return NewSQLite(dsn)
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}
	// A single connection keeps PRAGMAs in effect and gives SQLite one writer.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	return newSQLStore(db, sqliteDialect)
}

// NewPostgres connects to a PostgreSQL database and runs migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}
	return newSQLStore(db, postgresDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Dialect returns the backend name ("sqlite" or "postgres").
func (s *SQLStore) Dialect() string {
	return s.d.name
}

func (s *SQLStore) c() conn {
	return conn{db: s.db, d: s.d}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            ` + s.d.idColumn + `,
			username      TEXT NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id         ` + s.d.idColumn + `,
			name       TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			user_id BIGINT NOT NULL REFERENCES users(id),
			room_id BIGINT NOT NULL REFERENCES rooms(id),
			PRIMARY KEY (user_id, room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         ` + s.d.idColumn + `,
			sender     TEXT    NOT NULL,
			receiver   TEXT    NOT NULL,
			is_room    INTEGER NOT NULL DEFAULT 0,
			body       TEXT    NOT NULL,
			created_at TEXT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invites (
			id         ` + s.d.idColumn + `,
			hash       TEXT    NOT NULL UNIQUE,
			used       INTEGER NOT NULL DEFAULT 0,
			used_at    TEXT,
			created_at TEXT    NOT NULL
		)`,
	}

	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{version: 1, statements: schema},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (receiver, is_room, id)",
				"CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender, receiver, id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.c().exec(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Users ----

// CreateUser creates a new user and returns it with the assigned ID.
func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("datastore: create user: empty password hash")
	}
	createdAt := s.now()
	var id int64
	err := s.c().queryRow(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING RETURNING id",
		username, passwordHash, formatDBTime(createdAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt.Truncate(time.Second),
	}, nil
}

// FetchStoredHash returns the encoded password hash for a username.
func (s *SQLStore) FetchStoredHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.c().queryRow(ctx, "SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("datastore: fetch hash: %w", err)
	}
	return hash, nil
}

// ---- Rooms ----

// EnsureRoom creates the room if it does not exist yet.
func (s *SQLStore) EnsureRoom(ctx context.Context, name string) error {
	if err := model.ValidateRoomName(name); err != nil {
		return fmt.Errorf("datastore: ensure room: %w", err)
	}
	_, err := s.c().exec(ctx,
		"INSERT INTO rooms (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING",
		name, formatDBTime(s.now()))
	if err != nil {
		return fmt.Errorf("datastore: ensure room: %w", err)
	}
	return nil
}

// IsRoom reports whether a room with this name exists.
func (s *SQLStore) IsRoom(ctx context.Context, name string) (bool, error) {
	return isRoom(ctx, s.c(), name)
}

func isRoom(ctx context.Context, c conn, name string) (bool, error) {
	var one int
	err := c.queryRow(ctx, "SELECT 1 FROM rooms WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("datastore: is room: %w", err)
	}
	return true, nil
}

// ListRooms returns all rooms ordered by name.
func (s *SQLStore) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := s.c().query(ctx, "SELECT id, name, created_at FROM rooms ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		r.CreatedAt = parsed
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// AddMembership resolves user and room IDs and records the membership in one
// transaction.
func (s *SQLStore) AddMembership(ctx context.Context, username, room string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("datastore: add membership: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := conn{db: tx, d: s.d}
	userID, roomID, ok, err := membershipIDs(ctx, c, username, room)
	if err != nil {
		return fmt.Errorf("datastore: add membership: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := c.exec(ctx,
		"INSERT INTO memberships (user_id, room_id) VALUES (?, ?) ON CONFLICT (user_id, room_id) DO NOTHING",
		userID, roomID); err != nil {
		return fmt.Errorf("datastore: add membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: add membership: commit: %w", err)
	}
	return nil
}

// RemoveMembership deletes a membership row if present.
func (s *SQLStore) RemoveMembership(ctx context.Context, username, room string) error {
	_, err := s.c().exec(ctx, `
		DELETE FROM memberships
		WHERE user_id = (SELECT id FROM users WHERE username = ?)
		AND room_id = (SELECT id FROM rooms WHERE name = ?)`,
		username, room)
	if err != nil {
		return fmt.Errorf("datastore: remove membership: %w", err)
	}
	return nil
}

// ListRoomMembers returns the usernames with a persisted membership in room.
func (s *SQLStore) ListRoomMembers(ctx context.Context, room string) ([]string, error) {
	rows, err := s.c().query(ctx, `
		SELECT u.username
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		JOIN rooms r ON r.id = m.room_id
		WHERE r.name = ?
		ORDER BY u.username`, room)
	if err != nil {
		return nil, fmt.Errorf("datastore: list room members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan member: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func membershipIDs(ctx context.Context, c conn, username, room string) (userID, roomID int64, ok bool, err error) {
	err = c.queryRow(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	err = c.queryRow(ctx, "SELECT id FROM rooms WHERE name = ?", room).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return userID, roomID, true, nil
}

// ---- Messages ----

// SaveMessage stores a room or direct message and fills in ID and CreatedAt.
func (s *SQLStore) SaveMessage(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}
	err := s.c().queryRow(ctx,
		"INSERT INTO messages (sender, receiver, is_room, body, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id",
		message.Sender, message.Receiver, boolInt(message.IsRoom), message.Text, formatDBTime(message.CreatedAt)).
		Scan(&message.ID)
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	return nil
}

// FetchHistory returns the newest limit messages for a room or a direct
// conversation, newest first.
func (s *SQLStore) FetchHistory(ctx context.Context, username, target string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	c := s.c()
	room, err := isRoom(ctx, c, target)
	if err != nil {
		return nil, fmt.Errorf("datastore: fetch history: %w", err)
	}

	var rows *sql.Rows
	if room {
		rows, err = c.query(ctx, `
			SELECT id, sender, receiver, is_room, body, created_at
			FROM messages
			WHERE receiver = ? AND is_room = 1
			ORDER BY id DESC
			LIMIT ?`, target, limit)
	} else {
		rows, err = c.query(ctx, `
			SELECT id, sender, receiver, is_room, body, created_at
			FROM messages
			WHERE is_room = 0
			AND ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))
			ORDER BY id DESC
			LIMIT ?`, username, target, target, username, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: fetch history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var isRoomInt int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &isRoomInt, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.IsRoom = isRoomInt != 0
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.CreatedAt = parsed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ---- Invites ----

// CreateInvite stores a new unused invite (hash only).
func (s *SQLStore) CreateInvite(ctx context.Context, hash string) error {
	if hash == "" {
		return fmt.Errorf("datastore: create invite: empty hash")
	}
	_, err := s.c().exec(ctx, "INSERT INTO invites (hash, used, created_at) VALUES (?, 0, ?)", hash, formatDBTime(s.now()))
	if err != nil {
		return fmt.Errorf("datastore: create invite: %w", err)
	}
	return nil
}

// RedeemInvite marks an invite used. The conditional UPDATE is the
// check-and-set, so two concurrent redemptions cannot both succeed.
func (s *SQLStore) RedeemInvite(ctx context.Context, hash string) (bool, error) {
	res, err := s.c().exec(ctx,
		"UPDATE invites SET used = 1, used_at = ? WHERE hash = ? AND used = 0",
		formatDBTime(s.now()), hash)
	if err != nil {
		return false, fmt.Errorf("datastore: redeem invite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: redeem invite: %w", err)
	}
	return n == 1, nil
}

// CountInvites returns the number of invites ever created.
func (s *SQLStore) CountInvites(ctx context.Context) (int, error) {
	var count int
	if err := s.c().queryRow(ctx, "SELECT COUNT(*) FROM invites").Scan(&count); err != nil {
		return 0, fmt.Errorf("datastore: count invites: %w", err)
	}
	return count, nil
}
