package handlers

import (
	"log/slog"
	"net/http"

	"github.com/umar/day23-chat/internal/store"
)

// ListUsers lists registered users, for finding people to chat with.
func ListUsers(users store.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := users.ListUsers(r.Context())
		if err != nil {
			slog.Error("failed to list users", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
