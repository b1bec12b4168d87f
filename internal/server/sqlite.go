package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/omochice/vetchat/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS members (
	room_id TEXT NOT NULL REFERENCES rooms(room_id),
	user    TEXT NOT NULL,
	PRIMARY KEY (room_id, user)
);
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id   TEXT NOT NULL,
	timestamp REAL NOT NULL,
	author    TEXT NOT NULL,
	message   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, timestamp);
`

// SQLiteStore persists the development backend in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, room, user string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO rooms (room_id) VALUES (?)`, room)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomExists
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO members (room_id, user) VALUES (?, ?)`, room, user); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RoomExists(ctx context.Context, room string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT room_id FROM rooms WHERE room_id = ?`, room).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, room, user string) error {
	if err := s.requireRoom(ctx, room); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO members (room_id, user) VALUES (?, ?)`, room, user)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyMember
	}
	return nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, room, user string) error {
	if err := s.requireRoom(ctx, room); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE room_id = ? AND user = ?`, room, user); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Members(ctx context.Context, room string) ([]string, error) {
	if err := s.requireRoom(ctx, room); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, `SELECT user FROM members WHERE room_id = ? ORDER BY user`, room)
}

func (s *SQLiteStore) RoomsFor(ctx context.Context, user string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT room_id FROM members WHERE user = ? ORDER BY room_id`, user)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, room string, msg protocol.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, timestamp, author, message) VALUES (?, ?, ?, ?)`,
		room, msg.Timestamp, msg.Author, msg.Content)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, room string) ([]protocol.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, author, message FROM messages WHERE room_id = ? ORDER BY timestamp, id`, room)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []protocol.ChatMessage{}
	for rows.Next() {
		var msg protocol.ChatMessage
		if err := rows.Scan(&msg.Timestamp, &msg.Author, &msg.Content); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) requireRoom(ctx context.Context, room string) error {
	ok, err := s.RoomExists(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	return nil
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
