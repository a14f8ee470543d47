package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/umar/day23-chat/internal/auth"
	"github.com/umar/day23-chat/internal/chat"
	"github.com/umar/day23-chat/internal/models"
	"github.com/umar/day23-chat/internal/store"
)

// GetMessages returns a room's history in the same wire shape the live
// protocol uses, oldest first.
func GetMessages(rooms store.RoomStore, messages store.MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["id"]
		userID := auth.UserID(r)

		isMember, err := rooms.IsMember(r.Context(), roomID, userID)
		if err != nil || !isMember {
			writeError(w, http.StatusForbidden, "not a member of this room")
			return
		}
		room, err := rooms.GetRoom(r.Context(), roomID)
		if err != nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		msgs, err := messages.ListByRoom(r.Context(), roomID, limit)
		if err != nil {
			slog.Error("failed to list messages", "error", err, "room_id", roomID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		members, err := rooms.ListMembers(r.Context(), roomID)
		if err != nil {
			slog.Error("failed to list members", "error", err, "room_id", roomID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		profiles := make(map[string]models.Profile, len(members))
		for _, u := range members {
			profiles[u.ID] = u.Profile()
		}

		wire := make([]chat.WireMessage, 0, len(msgs))
		for i := range msgs {
			wire = append(wire, chat.ToWire(&msgs[i], profiles[msgs[i].SenderID], room.IsGroup, members))
		}
		writeJSON(w, http.StatusOK, wire)
	}
}

// MarkRoomRead marks every message in the room not sent by the caller
// as read by them.
func MarkRoomRead(rooms store.RoomStore, messages store.MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["id"]
		userID := auth.UserID(r)

		isMember, err := rooms.IsMember(r.Context(), roomID, userID)
		if err != nil || !isMember {
			writeError(w, http.StatusForbidden, "not a member of this room")
			return
		}
		room, err := rooms.GetRoom(r.Context(), roomID)
		if err != nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		if err := messages.MarkRoomRead(r.Context(), roomID, userID, room.IsGroup); err != nil {
			slog.Error("failed to mark room read", "error", err, "room_id", roomID, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}
