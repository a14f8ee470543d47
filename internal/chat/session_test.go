package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umar/day23-chat/internal/memstore"
	"github.com/umar/day23-chat/internal/models"
)

type testEnv struct {
	store   *memstore.Store
	broker  *MemoryBroker
	server  *httptest.Server
	alice   *models.User
	bob     *models.User
	carol   *models.User
	private *models.Room
	group   *models.Room
}

// testIdentity treats the token query parameter as the user id; a
// token the store does not know is unauthenticated.
func testIdentity(st *memstore.Store) IdentityFunc {
	return func(r *http.Request) (string, string, bool) {
		token := r.URL.Query().Get("token")
		if token == "" {
			return "", "", false
		}
		u, err := st.GetUserByID(r.Context(), token)
		if err != nil {
			return "", "", false
		}
		return u.ID, u.Username, true
	}
}

func newTestEnv(t *testing.T) *testEnv {
	ctx := context.Background()
	st := memstore.New()

	alice, err := st.CreateUser(ctx, "alice", "alice@example.com", "x")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "bob@example.com", "x")
	require.NoError(t, err)
	carol, err := st.CreateUser(ctx, "carol", "carol@example.com", "x")
	require.NoError(t, err)

	private, _, err := st.GetOrCreatePrivateRoom(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	group, err := st.CreateGroupRoom(ctx, "general", []string{alice.ID, bob.ID, carol.ID})
	require.NoError(t, err)

	broker := NewMemoryBroker()
	stores := Stores{Users: st, Rooms: st, Messages: st, Typing: st}
	gateway := NewGateway(broker, stores, testIdentity(st))

	router := mux.NewRouter()
	router.HandleFunc("/ws/chat/{room}", gateway.ServeWS()).Methods("GET")
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		store:   st,
		broker:  broker,
		server:  server,
		alice:   alice,
		bob:     bob,
		carol:   carol,
		private: private,
		group:   group,
	}
}

func (e *testEnv) wsURL(roomID, token string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/chat/" + roomID + "?token=" + token
}

// connect dials and consumes the connection_established event so the
// caller knows the session has joined the broker.
func (e *testEnv) connect(t *testing.T, roomID string, user *models.User) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(roomID, user.ID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	event := readEvent(t, conn)
	require.Equal(t, TypeConnectionEstablished, event["type"])
	require.Equal(t, roomID, event["room_id"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

func TestHandshakeUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(env.private.ID, "not-a-user"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeForbiddenForNonMember(t *testing.T) {
	env := newTestEnv(t)

	// carol is not in the private room between alice and bob.
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(env.private.ID, env.carol.ID), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandshakeForbiddenForUnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("no-such-room", env.alice.ID), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatMessageEchoAndDelivery(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	bob := env.connect(t, env.private.ID, env.bob)

	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "hi"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		event := readEvent(t, conn)
		require.Equal(t, TypeChatMessage, event["type"])
		msg := event["message"].(map[string]interface{})
		assert.Equal(t, "hi", msg["text"])
		assert.Equal(t, env.private.ID, msg["room_id"])

		sender := msg["sender"].(map[string]interface{})
		assert.Equal(t, env.alice.ID, sender["id"])
		assert.Equal(t, "alice", sender["username"])

		_, err := time.Parse(time.RFC3339, msg["timestamp"].(string))
		assert.NoError(t, err)
		// Private room: no reader-name list on the wire.
		assert.NotContains(t, msg, "read_by_users")
	}

	stored, err := env.store.ListByRoom(context.Background(), env.private.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, env.alice.ID, stored[0].SenderID)
	assert.Equal(t, "hi", stored[0].Text)
}

func TestWhitespaceMessageDropped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	bob := env.connect(t, env.private.ID, env.bob)

	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "   \n\t "})
	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "real"})

	// Per-connection ordering: if the whitespace message had produced
	// a broadcast, it would arrive before the real one.
	event := readEvent(t, bob)
	msg := event["message"].(map[string]interface{})
	assert.Equal(t, "real", msg["text"])

	stored, err := env.store.ListByRoom(context.Background(), env.private.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestTypingExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	bob := env.connect(t, env.private.ID, env.bob)

	isTyping := true
	sendEnvelope(t, alice, Envelope{Type: TypeTyping, IsTyping: &isTyping})

	event := readEvent(t, bob)
	require.Equal(t, TypeTyping, event["type"])
	assert.Equal(t, env.alice.ID, event["user_id"])
	assert.Equal(t, "alice", event["username"])
	assert.Equal(t, true, event["is_typing"])

	// Alice must not receive her own typing event: the next thing she
	// sees is the echo of a follow-up chat message.
	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "done typing"})
	next := readEvent(t, alice)
	assert.Equal(t, TypeChatMessage, next["type"])

	assert.True(t, env.store.TypingState(env.private.ID, env.alice.ID))
}

func TestReadReceiptPrivateRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	bob := env.connect(t, env.private.ID, env.bob)

	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "hi"})
	event := readEvent(t, bob)
	msgID := event["message"].(map[string]interface{})["id"].(string)
	readEvent(t, alice) // alice's own echo

	sendEnvelope(t, bob, Envelope{Type: TypeReadReceipt, MessageID: msgID})

	for _, conn := range []*websocket.Conn{alice, bob} {
		receipt := readEvent(t, conn)
		require.Equal(t, TypeReadReceipt, receipt["type"])
		assert.Equal(t, msgID, receipt["message_id"])
		assert.Equal(t, env.bob.ID, receipt["user_id"])
		assert.Equal(t, "bob", receipt["username"])
	}

	msg, err := env.store.Get(context.Background(), msgID)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
}

func TestReadReceiptOwnMessageStaysUnread(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)

	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "hi"})
	event := readEvent(t, alice)
	msgID := event["message"].(map[string]interface{})["id"].(string)

	sendEnvelope(t, alice, Envelope{Type: TypeReadReceipt, MessageID: msgID})
	receipt := readEvent(t, alice)
	require.Equal(t, TypeReadReceipt, receipt["type"])

	msg, err := env.store.Get(context.Background(), msgID)
	require.NoError(t, err)
	assert.False(t, msg.IsRead)
}

func TestReadReceiptGroupRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.group.ID, env.alice)
	bob := env.connect(t, env.group.ID, env.bob)
	carol := env.connect(t, env.group.ID, env.carol)

	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "hello group"})
	msgID := readEvent(t, bob)["message"].(map[string]interface{})["id"].(string)
	readEvent(t, alice)
	readEvent(t, carol)

	// Marking twice must leave exactly one entry for bob.
	sendEnvelope(t, bob, Envelope{Type: TypeReadReceipt, MessageID: msgID})
	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		receipt := readEvent(t, conn)
		require.Equal(t, TypeReadReceipt, receipt["type"])
		assert.Equal(t, env.bob.ID, receipt["user_id"])
	}
	sendEnvelope(t, bob, Envelope{Type: TypeReadReceipt, MessageID: msgID})
	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		readEvent(t, conn)
	}

	msg, err := env.store.Get(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.bob.ID}, msg.ReadBy)
}

func TestReadReceiptForeignRoomIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	groupAlice := env.connect(t, env.group.ID, env.alice)

	sendEnvelope(t, groupAlice, Envelope{Type: TypeChatMessage, Message: "group only"})
	msgID := readEvent(t, groupAlice)["message"].(map[string]interface{})["id"].(string)

	// Receipt for a message from another room: silent no-op.
	sendEnvelope(t, alice, Envelope{Type: TypeReadReceipt, MessageID: msgID})
	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "still alive"})
	next := readEvent(t, alice)
	assert.Equal(t, TypeChatMessage, next["type"])

	msg, err := env.store.Get(context.Background(), msgID)
	require.NoError(t, err)
	assert.Empty(t, msg.ReadBy)
}

func TestMalformedEnvelopesIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendEnvelope(t, alice, map[string]interface{}{"type": "bogus_type"})
	sendEnvelope(t, alice, map[string]interface{}{"type": "typing"}) // is_typing missing
	sendEnvelope(t, alice, map[string]interface{}{"type": "read_receipt"})

	// The connection survives all of it.
	sendEnvelope(t, alice, Envelope{Type: TypeChatMessage, Message: "ok"})
	event := readEvent(t, alice)
	assert.Equal(t, TypeChatMessage, event["type"])
}

func TestDisconnectClearsTypingAndLeavesRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, env.private.ID, env.alice)
	env.connect(t, env.private.ID, env.bob)

	isTyping := true
	sendEnvelope(t, alice, Envelope{Type: TypeTyping, IsTyping: &isTyping})
	require.Eventually(t, func() bool {
		return env.store.TypingState(env.private.ID, env.alice.ID)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return env.broker.RoomSize(env.private.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !env.store.TypingState(env.private.ID, env.alice.ID)
	}, 2*time.Second, 10*time.Millisecond)
}
