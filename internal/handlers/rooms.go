package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/umar/day23-chat/internal/auth"
	"github.com/umar/day23-chat/internal/store"
)

func ListRooms(rooms store.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := rooms.ListRoomsForUser(r.Context(), auth.UserID(r))
		if err != nil {
			slog.Error("failed to list rooms", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func CreateRoom(rooms store.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r)

		var req struct {
			Name      string   `json:"name"`
			MemberIDs []string `json:"member_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		// The creator is always a member.
		members := req.MemberIDs
		found := false
		for _, id := range members {
			if id == userID {
				found = true
				break
			}
		}
		if !found {
			members = append(members, userID)
		}

		room, err := rooms.CreateGroupRoom(r.Context(), req.Name, members)
		if err != nil {
			slog.Error("failed to create room", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, room)
	}
}

func GetRoom(rooms store.RoomStore) http.HandlerFunc {
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
		members, err := rooms.ListMembers(r.Context(), roomID)
		if err != nil {
			slog.Error("failed to list members", "error", err, "room_id", roomID)
			members = nil
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"room":    room,
			"members": members,
		})
	}
}

// PrivateRoom gets or creates the unique private room between the
// caller and another user.
func PrivateRoom(rooms store.RoomStore, users store.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r)

		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.UserID == userID {
			writeError(w, http.StatusBadRequest, "cannot start a private room with yourself")
			return
		}

		if _, err := users.GetUserByID(r.Context(), req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}
			slog.Error("failed to get user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		room, created, err := rooms.GetOrCreatePrivateRoom(r.Context(), userID, req.UserID)
		if err != nil {
			slog.Error("failed to get or create private room", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, room)
	}
}
