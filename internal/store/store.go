// Package store is the durable side of the relay: an append-only log of
// room operations plus the user and room records backing the HTTP API.
// The relay never reads the log; history is served by a separate
// paginated query.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrSlugTaken  = errors.New("room slug already taken")
)

type Store struct {
	db *sql.DB
}

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

type Room struct {
	ID        int64
	Slug      string
	AdminID   string
	CreatedAt time.Time
}

// Operation is one persisted drawing/chat operation. Payload is opaque.
type Operation struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Payload   string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers from blocking the relay's append path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		admin_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_operations_room_id ON operations(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, name string, passwordHash []byte) (*User, error) {
	existing, err := s.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?",
		email,
	)

	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Room operations

func (s *Store) CreateRoom(ctx context.Context, slug, adminID string) (*Room, error) {
	existing, err := s.RoomBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSlugTaken
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (slug, admin_id, created_at) VALUES (?, ?, ?)",
		slug, adminID, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Room{ID: id, Slug: slug, AdminID: adminID, CreatedAt: now}, nil
}

func (s *Store) RoomBySlug(ctx context.Context, slug string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, slug, admin_id, created_at FROM rooms WHERE slug = ?",
		slug,
	)

	var r Room
	err := row.Scan(&r.ID, &r.Slug, &r.AdminID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Operation log

// AppendOperation records one operation for a room. It is called
// fire-and-forget by the relay after broadcast; a failure here never
// affects already-delivered frames.
func (s *Store) AppendOperation(ctx context.Context, roomID, userID, payload string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO operations (room_id, user_id, payload, created_at) VALUES (?, ?, ?, ?)",
		roomID, userID, payload, time.Now().UTC(),
	)
	return err
}

// RoomHistory returns up to limit operations for a room, newest first.
// Pass beforeID > 0 to page backwards from a previous result's oldest id.
func (s *Store) RoomHistory(ctx context.Context, roomID string, limit int, beforeID int64) ([]Operation, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	query := `
		SELECT id, room_id, user_id, payload, created_at
		FROM operations
		WHERE room_id = ?`
	args := []any{roomID}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.RoomID, &op.UserID, &op.Payload, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Stats

func (s *Store) CountRooms(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count)
	return count, err
}

func (s *Store) CountOperations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&count)
	return count, err
}
