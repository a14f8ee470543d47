package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umar/day23-chat/internal/models"
)

func TestToWirePrivateRoom(t *testing.T) {
	msg := &models.Message{
		ID:        "m1",
		RoomID:    "r1",
		SenderID:  "u1",
		Text:      "hi",
		Timestamp: time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	sender := models.Profile{ID: "u1", Username: "alice"}

	w := ToWire(msg, sender, false, nil)

	assert.Equal(t, "2025-03-14T15:09:26Z", w.Timestamp)
	assert.Equal(t, "alice", w.Sender.Username)
	assert.Nil(t, w.ReadByUsers)

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "read_by_users")
}

func TestToWireGroupRoomIncludesReaders(t *testing.T) {
	msg := &models.Message{
		ID:        "m1",
		RoomID:    "g1",
		SenderID:  "u1",
		Text:      "hi all",
		Timestamp: time.Now().UTC(),
		ReadBy:    []string{"u2", "u3"},
	}
	readers := []models.User{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob"},
		{ID: "u3", Username: "carol"},
	}

	w := ToWire(msg, readers[0].Profile(), true, readers)

	require.NotNil(t, w.ReadByUsers)
	assert.Equal(t, []string{"bob", "carol"}, *w.ReadByUsers)

	_, err := time.Parse(time.RFC3339, w.Timestamp)
	assert.NoError(t, err)
}

func TestToWireGroupRoomEmptyReaderList(t *testing.T) {
	msg := &models.Message{
		ID:        "m1",
		RoomID:    "g1",
		SenderID:  "u1",
		Text:      "fresh",
		Timestamp: time.Now().UTC(),
	}

	w := ToWire(msg, models.Profile{ID: "u1"}, true, nil)

	require.NotNil(t, w.ReadByUsers)
	assert.Empty(t, *w.ReadByUsers)

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"read_by_users":[]`)
}
