package chat

import "sync"

// Subscriber is the broker-facing side of a session.
type Subscriber interface {
	SessionID() string
	// Enqueue offers data to the subscriber without blocking and
	// reports false when its outbox is full.
	Enqueue(data []byte) bool
	// Disconnect is invoked by the broker when the subscriber cannot
	// keep up; delivery to others must not wait for it.
	Disconnect()
}

// Broker is the per-room fanout. Publish delivers to every joined
// subscriber except the one identified by excludeSessionID, never
// blocking on any recipient.
type Broker interface {
	Join(roomID string, sub Subscriber)
	Leave(roomID string, sub Subscriber)
	Publish(roomID string, data []byte, excludeSessionID string)
	Close() error
}

// MemoryBroker is the single-process Broker: a map of room id to the
// set of joined subscribers. Room entries are created on first join
// and dropped when the last subscriber leaves.
type MemoryBroker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{rooms: make(map[string]map[string]Subscriber)}
}

func (b *MemoryBroker) Join(roomID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[string]Subscriber)
		b.rooms[roomID] = subs
	}
	subs[sub.SessionID()] = sub
}

func (b *MemoryBroker) Leave(roomID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, sub.SessionID())
	if len(subs) == 0 {
		delete(b.rooms, roomID)
	}
}

func (b *MemoryBroker) Publish(roomID string, data []byte, excludeSessionID string) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.rooms[roomID]))
	for id, sub := range b.rooms[roomID] {
		if id == excludeSessionID {
			continue
		}
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	// Delivery happens outside the lock so one recipient cannot stall
	// membership changes or delivery to the rest.
	for _, sub := range subs {
		if !sub.Enqueue(data) {
			sub.Disconnect()
		}
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = make(map[string]map[string]Subscriber)
	return nil
}

// RoomSize reports how many subscribers are joined to a room.
func (b *MemoryBroker) RoomSize(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}
