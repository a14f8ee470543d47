// Package natsbroker implements chat.Broker on NATS so multiple server
// instances can share room fanout. Each room maps to one subject; the
// local member set handles delivery to sessions on this instance, and
// the exclusion id travels inside the published envelope.
package natsbroker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/umar/day23-chat/internal/chat"
)

type roomEnvelope struct {
	Exclude string          `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type Broker struct {
	conn  *nats.Conn
	local *chat.MemoryBroker

	mu   sync.Mutex
	subs map[string]*nats.Subscription
	refs map[string]int
}

func New(natsURL string) (*Broker, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Broker{
		conn:  conn,
		local: chat.NewMemoryBroker(),
		subs:  make(map[string]*nats.Subscription),
		refs:  make(map[string]int),
	}, nil
}

func subject(roomID string) string {
	return "chat.room." + roomID
}

// Join registers the subscriber locally and opens the room's NATS
// subscription on first join.
func (b *Broker) Join(roomID string, sub chat.Subscriber) {
	b.local.Join(roomID, sub)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[roomID]++
	if b.refs[roomID] > 1 {
		return
	}
	natsSub, err := b.conn.Subscribe(subject(roomID), func(msg *nats.Msg) {
		var env roomEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			slog.Debug("dropping undecodable room envelope", "room_id", roomID)
			return
		}
		b.local.Publish(roomID, env.Data, env.Exclude)
	})
	if err != nil {
		slog.Error("failed to subscribe to room subject", "error", err, "room_id", roomID)
		return
	}
	b.subs[roomID] = natsSub
}

// Leave removes the subscriber and drops the room subscription when
// the last local session leaves.
func (b *Broker) Leave(roomID string, sub chat.Subscriber) {
	b.local.Leave(roomID, sub)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs[roomID] == 0 {
		return
	}
	b.refs[roomID]--
	if b.refs[roomID] > 0 {
		return
	}
	delete(b.refs, roomID)
	if natsSub, ok := b.subs[roomID]; ok {
		if err := natsSub.Unsubscribe(); err != nil {
			slog.Debug("failed to unsubscribe room subject", "error", err, "room_id", roomID)
		}
		delete(b.subs, roomID)
	}
}

// Publish sends through NATS; delivery to local sessions happens when
// the message is echoed back to this instance's subscription.
func (b *Broker) Publish(roomID string, data []byte, excludeSessionID string) {
	payload, err := json.Marshal(roomEnvelope{Exclude: excludeSessionID, Data: data})
	if err != nil {
		return
	}
	if err := b.conn.Publish(subject(roomID), payload); err != nil {
		slog.Error("failed to publish room event", "error", err, "room_id", roomID)
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	for roomID, natsSub := range b.subs {
		_ = natsSub.Unsubscribe()
		delete(b.subs, roomID)
		delete(b.refs, roomID)
	}
	b.mu.Unlock()
	b.conn.Close()
	return b.local.Close()
}
