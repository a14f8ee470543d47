package models

import "time"

// Message is one entry in a room's append-only log. Text and Timestamp
// never change after creation. IsRead is only meaningful for private
// rooms; ReadBy only for group rooms, and it only grows.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
	ReadBy    []string  `json:"read_by,omitempty"`
}
