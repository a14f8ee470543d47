// Package database implements the store interfaces on PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/umar/day23-chat/internal/models"
	"github.com/umar/day23-chat/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate() error { return RunMigrations(s.db) }

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (used by handlers to map duplicates to 409).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password) VALUES ($1, $2, $3)
		 RETURNING id, username, email, avatar_url, created_at`,
		username, email, passwordHash,
	).Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, avatar_url, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password, avatar_url, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, avatar_url, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Rooms ---

func (s *Store) CreateGroupRoom(ctx context.Context, name string, memberIDs []string) (*models.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var r models.Room
	err = tx.QueryRowContext(ctx,
		`INSERT INTO rooms (name, is_group) VALUES ($1, TRUE)
		 RETURNING id, name, is_group, created_at`,
		name,
	).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			r.ID, userID,
		); err != nil {
			return nil, fmt.Errorf("failed to add member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &r, nil
}

// GetOrCreatePrivateRoom relies on the unique pair_key index: the
// insert either wins the race or returns no row, in which case the
// existing room for the pair is read back.
func (s *Store) GetOrCreatePrivateRoom(ctx context.Context, userA, userB string) (*models.Room, bool, error) {
	key := normalizePair(userA, userB)

	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, created_at FROM rooms WHERE pair_key = $1`,
		key,
	).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt)
	if err == nil {
		return &r, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up private room: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO rooms (is_group, pair_key) VALUES (FALSE, $1)
		 ON CONFLICT (pair_key) DO NOTHING
		 RETURNING id, name, is_group, created_at`,
		key,
	).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: another call created the room first.
		err = s.db.QueryRowContext(ctx,
			`SELECT id, name, is_group, created_at FROM rooms WHERE pair_key = $1`,
			key,
		).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read back private room: %w", err)
		}
		return &r, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create private room: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			r.ID, userID,
		); err != nil {
			return nil, false, fmt.Errorf("failed to add member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}
	return &r, true, nil
}

func normalizePair(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, created_at FROM rooms WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &r, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at
		FROM rooms r JOIN room_members rm ON r.id = rm.room_id
		WHERE rm.user_id = $1
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.avatar_url, u.created_at
		FROM users u JOIN room_members rm ON u.id = rm.user_id
		WHERE rm.room_id = $1
		ORDER BY u.username
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Messages ---

func (s *Store) Append(ctx context.Context, roomID, senderID, text string) (*models.Message, error) {
	var m models.Message
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (room_id, sender_id, text) VALUES ($1, $2, $3)
		 RETURNING id, room_id, sender_id, text, is_read, created_at`,
		roomID, senderID, text,
	).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.IsRead, &m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &m, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	var readBy pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.text, m.is_read, m.created_at,
		       COALESCE(array_agg(mr.user_id::text) FILTER (WHERE mr.user_id IS NOT NULL), '{}')
		FROM messages m LEFT JOIN message_reads mr ON m.id = mr.message_id
		WHERE m.id = $1
		GROUP BY m.id
	`, id).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.IsRead, &m.Timestamp, &readBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	m.ReadBy = []string(readBy)
	return &m, nil
}

func (s *Store) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, text, is_read, created_at, read_by FROM (
			SELECT m.id, m.room_id, m.sender_id, m.text, m.is_read, m.created_at, m.seq,
			       COALESCE(array_agg(mr.user_id::text) FILTER (WHERE mr.user_id IS NOT NULL), '{}') AS read_by
			FROM messages m LEFT JOIN message_reads mr ON m.id = mr.message_id
			WHERE m.room_id = $1
			GROUP BY m.id
			ORDER BY m.created_at DESC, m.seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at, seq
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var readBy pq.StringArray
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.IsRead, &m.Timestamp, &readBy); err != nil {
			return nil, err
		}
		m.ReadBy = []string(readBy)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) MarkReadPrivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddReader(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to add reader: %w", err)
	}
	return nil
}

func (s *Store) MarkRoomRead(ctx context.Context, roomID, userID string, isGroup bool) error {
	if isGroup {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO message_reads (message_id, user_id)
			SELECT id, $2 FROM messages WHERE room_id = $1 AND sender_id != $2
			ON CONFLICT DO NOTHING
		`, roomID, userID)
		if err != nil {
			return fmt.Errorf("failed to mark room read: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE room_id = $1 AND sender_id != $2 AND is_read = FALSE`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark room read: %w", err)
	}
	return nil
}

// --- Typing ---

// Typing state is normally kept in Redis; this implementation backs it
// when no Redis is configured.

func (s *Store) Upsert(ctx context.Context, roomID, userID string, isTyping bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO typing_states (room_id, user_id, is_typing, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, user_id) DO UPDATE SET is_typing = $3, updated_at = NOW()
	`, roomID, userID, isTyping)
	if err != nil {
		return fmt.Errorf("failed to upsert typing state: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE typing_states SET is_typing = FALSE, updated_at = NOW() WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	return err
}

func (s *Store) ListTyping(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM typing_states WHERE room_id = $1 AND is_typing ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list typing: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
