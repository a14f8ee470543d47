package chat

import (
	"time"

	"github.com/umar/day23-chat/internal/models"
)

// WireMessage is the serialized form of a message as clients see it.
// ReadByUsers is present only for group rooms; it is derived from the
// reader set at serialization time, not stored.
type WireMessage struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	Sender      models.Profile `json:"sender"`
	Text        string         `json:"text"`
	Timestamp   string         `json:"timestamp"`
	IsRead      bool           `json:"is_read"`
	ReadByUsers *[]string      `json:"read_by_users,omitempty"`
}

// ToWire builds the wire representation of a message. readers supplies
// the usernames behind msg.ReadBy and matters only for group rooms.
func ToWire(msg *models.Message, sender models.Profile, isGroup bool, readers []models.User) WireMessage {
	w := WireMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Sender:    sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
		IsRead:    msg.IsRead,
	}
	if isGroup {
		names := make([]string, 0, len(readers))
		byID := make(map[string]string, len(readers))
		for _, u := range readers {
			byID[u.ID] = u.Username
		}
		for _, id := range msg.ReadBy {
			if name, ok := byID[id]; ok {
				names = append(names, name)
			}
		}
		w.ReadByUsers = &names
	}
	return w
}
