package models

import "time"

// TypingState is ephemeral: at most one record per (room, user), safe
// to lose on restart.
type TypingState struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}
