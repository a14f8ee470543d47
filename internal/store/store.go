// Package store declares the storage boundary the chat core depends
// on. Implementations live in internal/database (Postgres),
// internal/redisc (typing state) and internal/memstore (in-memory).
package store

import (
	"context"
	"errors"

	"github.com/umar/day23-chat/internal/models"
)

var ErrNotFound = errors.New("not found")

type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

type RoomStore interface {
	// CreateGroupRoom creates a named group room with the given members.
	CreateGroupRoom(ctx context.Context, name string, memberIDs []string) (*models.Room, error)
	// GetOrCreatePrivateRoom returns the unique private room for the
	// unordered pair, creating it if absent. Race-safe: concurrent
	// calls with the same pair (either order) yield one room. The
	// second return reports whether the room was created.
	GetOrCreatePrivateRoom(ctx context.Context, userA, userB string) (*models.Room, bool, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	ListMembers(ctx context.Context, roomID string) ([]models.User, error)
}

type MessageStore interface {
	// Append stores a new message; the store assigns id and timestamp.
	Append(ctx context.Context, roomID, senderID, text string) (*models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	// ListByRoom returns messages in timestamp order (insertion order
	// breaking ties); when limit > 0 only the most recent limit
	// messages are returned, still ascending.
	ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	// MarkReadPrivate flips is_read true (private rooms only).
	MarkReadPrivate(ctx context.Context, id string) error
	// AddReader adds userID to read_by (group rooms only, idempotent).
	AddReader(ctx context.Context, id, userID string) error
	// MarkRoomRead marks every message in the room not sent by userID
	// as read by them, using the group or private rule.
	MarkRoomRead(ctx context.Context, roomID, userID string, isGroup bool) error
}

type TypingStore interface {
	Upsert(ctx context.Context, roomID, userID string, isTyping bool) error
	// Clear sets the flag false; best-effort on disconnect.
	Clear(ctx context.Context, roomID, userID string) error
	ListTyping(ctx context.Context, roomID string) ([]string, error)
}
