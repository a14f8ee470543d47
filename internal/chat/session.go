package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/umar/day23-chat/internal/models"
	"github.com/umar/day23-chat/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	outboxSize     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stores bundles the storage collaborators a session delegates to.
type Stores struct {
	Users    store.UserStore
	Rooms    store.RoomStore
	Messages store.MessageStore
	Typing   store.TypingStore
}

// IdentityFunc resolves the identity behind an inbound connection.
// ok is false when the credential is missing or invalid.
type IdentityFunc func(r *http.Request) (userID, username string, ok bool)

// PresenceTracker is notified of session lifecycle; optional.
type PresenceTracker interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
}

// Gateway accepts websocket connections and runs one Session per
// connection. A session is bound to a single room for its lifetime;
// the room id is the last path segment of the connection URL.
type Gateway struct {
	broker   Broker
	stores   Stores
	identify IdentityFunc
	presence PresenceTracker
}

func NewGateway(broker Broker, stores Stores, identify IdentityFunc) *Gateway {
	return &Gateway{broker: broker, stores: stores, identify: identify}
}

// WithPresence enables presence tracking on connect/disconnect.
func (g *Gateway) WithPresence(p PresenceTracker) *Gateway {
	g.presence = p
	return g
}

// ServeWS is the handler for GET /ws/chat/{room}. Handshake order is
// strict: authenticate, then verify the room and membership, and only
// then join the broker and accept traffic.
func (g *Gateway) ServeWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, username, ok := g.identify(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		roomID := mux.Vars(r)["room"]
		room, err := g.stores.Rooms.GetRoom(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			slog.Error("room lookup failed", "error", err, "room_id", roomID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		isMember, err := g.stores.Rooms.IsMember(r.Context(), roomID, userID)
		if err != nil {
			slog.Error("membership check failed", "error", err, "room_id", roomID, "user_id", userID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !isMember {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		user, err := g.stores.Users.GetUserByID(r.Context(), userID)
		if err != nil {
			// Credential references a user the store no longer knows.
			slog.Warn("rejecting unknown user", "user_id", userID, "username", username)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}

		s := &Session{
			id:     uuid.NewString(),
			broker: g.broker,
			stores: g.stores,
			conn:   conn,
			user:   user,
			room:   room,
			send:   make(chan []byte, outboxSize),
		}

		g.broker.Join(room.ID, s)
		if g.presence != nil {
			if err := g.presence.Connected(context.Background(), userID); err != nil {
				slog.Debug("presence update failed", "error", err, "user_id", userID)
			}
		}
		slog.Info("session connected", "session_id", s.id, "user_id", userID, "room_id", room.ID)

		data, _ := json.Marshal(connectionEstablishedEvent{
			Type:    TypeConnectionEstablished,
			RoomID:  room.ID,
			Message: "Connected to room " + room.ID,
		})
		s.Enqueue(data)

		go s.writePump()
		go s.readPump(g.presence)
	}
}

// Session is the live execution context of one connection. It owns no
// persistent state and references exactly one user and one room.
type Session struct {
	id     string
	broker Broker
	stores Stores
	conn   *websocket.Conn
	user   *models.User
	room   *models.Room
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *Session) SessionID() string { return s.id }

// Enqueue implements Subscriber. It never blocks; false means the
// outbox is full and the broker should disconnect this session.
func (s *Session) Enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Disconnect implements Subscriber: the broker gave up on this session.
func (s *Session) Disconnect() {
	slog.Info("disconnecting slow session", "session_id", s.id, "user_id", s.user.ID)
	s.conn.Close()
}

// readPump processes envelopes sequentially: the next frame is not
// read until the current one's store mutation and broadcast are done.
func (s *Session) readPump(presence PresenceTracker) {
	defer s.teardown(presence)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws read error", "error", err, "user_id", s.user.ID)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("dropping undecodable frame", "session_id", s.id)
			continue
		}
		s.handle(env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown leaves the broker first so no further events are delivered,
// then best-effort clears typing state. Failures here are logged and
// swallowed: the connection is already ending.
func (s *Session) teardown(presence PresenceTracker) {
	s.broker.Leave(s.room.ID, s)

	s.mu.Lock()
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	s.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stores.Typing.Clear(ctx, s.room.ID, s.user.ID); err != nil {
		slog.Debug("typing clear on disconnect failed", "error", err, "room_id", s.room.ID, "user_id", s.user.ID)
	}
	if presence != nil {
		if err := presence.Disconnected(ctx, s.user.ID); err != nil {
			slog.Debug("presence update failed", "error", err, "user_id", s.user.ID)
		}
	}
	slog.Info("session disconnected", "session_id", s.id, "user_id", s.user.ID, "room_id", s.room.ID)
}

// handle dispatches one inbound envelope. Nothing here is fatal to the
// connection: malformed input is dropped, storage failures are logged
// and the next envelope gets a fresh chance.
func (s *Session) handle(env Envelope) {
	switch env.Type {
	case TypeChatMessage:
		s.handleChatMessage(env)
	case TypeTyping:
		s.handleTyping(env)
	case TypeReadReceipt:
		s.handleReadReceipt(env)
	default:
		slog.Debug("dropping unknown message type", "type", env.Type, "session_id", s.id)
	}
}

func (s *Session) handleChatMessage(env Envelope) {
	text := strings.TrimSpace(env.Message)
	if text == "" {
		return
	}

	ctx := context.Background()
	msg, err := s.stores.Messages.Append(ctx, s.room.ID, s.user.ID, text)
	if err != nil {
		slog.Error("failed to store message", "error", err, "room_id", s.room.ID, "user_id", s.user.ID)
		return
	}

	data, err := json.Marshal(chatMessageEvent{
		Type:    TypeChatMessage,
		Message: ToWire(msg, s.user.Profile(), s.room.IsGroup, nil),
	})
	if err != nil {
		return
	}
	// The sender receives its own echo: no exclusion.
	s.broker.Publish(s.room.ID, data, "")
}

func (s *Session) handleTyping(env Envelope) {
	if env.IsTyping == nil {
		slog.Debug("typing without is_typing", "session_id", s.id)
		return
	}

	ctx := context.Background()
	if err := s.stores.Typing.Upsert(ctx, s.room.ID, s.user.ID, *env.IsTyping); err != nil {
		slog.Error("failed to upsert typing state", "error", err, "room_id", s.room.ID, "user_id", s.user.ID)
		return
	}

	data, err := json.Marshal(typingEvent{
		Type:     TypeTyping,
		UserID:   s.user.ID,
		Username: s.user.Username,
		IsTyping: *env.IsTyping,
	})
	if err != nil {
		return
	}
	s.broker.Publish(s.room.ID, data, s.id)
}

func (s *Session) handleReadReceipt(env Envelope) {
	if env.MessageID == "" {
		return
	}

	ctx := context.Background()
	msg, err := s.stores.Messages.Get(ctx, env.MessageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to load message", "error", err, "message_id", env.MessageID)
		}
		return
	}
	if msg.RoomID != s.room.ID {
		return
	}

	if s.room.IsGroup {
		err = s.stores.Messages.AddReader(ctx, msg.ID, s.user.ID)
	} else if msg.SenderID != s.user.ID {
		// A sender cannot mark their own message read in a private room.
		err = s.stores.Messages.MarkReadPrivate(ctx, msg.ID)
	}
	if err != nil {
		slog.Error("failed to mark message read", "error", err, "message_id", msg.ID, "user_id", s.user.ID)
		return
	}

	data, err := json.Marshal(readReceiptEvent{
		Type:      TypeReadReceipt,
		MessageID: msg.ID,
		UserID:    s.user.ID,
		Username:  s.user.Username,
	})
	if err != nil {
		return
	}
	s.broker.Publish(s.room.ID, data, "")
}
