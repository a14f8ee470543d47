// Package memstore is an in-memory implementation of the store
// interfaces, used by tests and dev mode. A single mutex guards all
// maps; the pair index serializes private-room check-then-create.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umar/day23-chat/internal/models"
	"github.com/umar/day23-chat/internal/store"
)

type Store struct {
	mu       sync.Mutex
	users    map[string]*models.User
	rooms    map[string]*models.Room
	members  map[string]map[string]bool // room id -> user id set
	pairs    map[string]string          // normalized pair key -> room id
	messages map[string]*models.Message
	order    []string // message ids in insertion order
	typing   map[string]*models.TypingState
}

func New() *Store {
	return &Store{
		users:    make(map[string]*models.User),
		rooms:    make(map[string]*models.Room),
		members:  make(map[string]map[string]bool),
		pairs:    make(map[string]string),
		messages: make(map[string]*models.Message),
		typing:   make(map[string]*models.TypingState),
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: time.Now().UTC(),
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// --- Rooms ---

func (s *Store) CreateGroupRoom(ctx context.Context, name string, memberIDs []string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.Room{
		ID:        uuid.NewString(),
		Name:      name,
		IsGroup:   true,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[r.ID] = r
	set := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = true
	}
	s.members[r.ID] = set
	room := *r
	return &room, nil
}

func (s *Store) GetOrCreatePrivateRoom(ctx context.Context, userA, userB string) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userA, userB)
	if id, ok := s.pairs[key]; ok {
		room := *s.rooms[id]
		return &room, false, nil
	}
	r := &models.Room{
		ID:        uuid.NewString(),
		IsGroup:   false,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[r.ID] = r
	s.members[r.ID] = map[string]bool{userA: true, userB: true}
	s.pairs[key] = r.ID
	room := *r
	return &room, true, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	room := *r
	return &room, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[roomID][userID], nil
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []models.Room
	for id, set := range s.members {
		if set[userID] {
			rooms = append(rooms, *s.rooms[id])
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, store.ErrNotFound
	}
	var users []models.User
	for id := range s.members[roomID] {
		if u, ok := s.users[id]; ok {
			users = append(users, *copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// --- Messages ---

func (s *Store) Append(ctx context.Context, roomID, senderID, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, store.ErrNotFound
	}
	m := &models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	s.messages[m.ID] = m
	s.order = append(s.order, m.ID)
	return copyMessage(m), nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *Store) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []models.Message
	for _, id := range s.order {
		if m := s.messages[id]; m.RoomID == roomID {
			msgs = append(msgs, *copyMessage(m))
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) MarkReadPrivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.IsRead = true
	return nil
}

func (s *Store) AddReader(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, r := range m.ReadBy {
		if r == userID {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	return nil
}

func (s *Store) MarkRoomRead(ctx context.Context, roomID, userID string, isGroup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.RoomID != roomID || m.SenderID == userID {
			continue
		}
		if isGroup {
			if !containsID(m.ReadBy, userID) {
				m.ReadBy = append(m.ReadBy, userID)
			}
		} else {
			m.IsRead = true
		}
	}
	return nil
}

// --- Typing ---

func (s *Store) Upsert(ctx context.Context, roomID, userID string, isTyping bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[roomID+":"+userID] = &models.TypingState{
		RoomID:    roomID,
		UserID:    userID,
		IsTyping:  isTyping,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, roomID, userID string) error {
	return s.Upsert(ctx, roomID, userID, false)
}

func (s *Store) ListTyping(ctx context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []string
	for _, t := range s.typing {
		if t.RoomID == roomID && t.IsTyping {
			users = append(users, t.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// TypingState reports the stored flag for (room, user); false when absent.
func (s *Store) TypingState(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.typing[roomID+":"+userID]
	return ok && t.IsTyping
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	c.ReadBy = append([]string(nil), m.ReadBy...)
	return &c
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
