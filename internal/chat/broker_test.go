package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id           string
	mu           sync.Mutex
	received     [][]byte
	full         bool
	disconnected bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) SessionID() string { return f.id }

func (f *fakeSubscriber) Enqueue(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.received = append(f.received, data)
	return true
}

func (f *fakeSubscriber) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSubscriber) events() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func (f *fakeSubscriber) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func TestMemoryBrokerPublishReachesJoined(t *testing.T) {
	b := NewMemoryBroker()
	s1 := newFakeSubscriber("s1")
	s2 := newFakeSubscriber("s2")

	b.Join("room1", s1)
	b.Join("room1", s2)

	b.Publish("room1", []byte("hello"), "")

	require.Len(t, s1.events(), 1)
	require.Len(t, s2.events(), 1)
	assert.Equal(t, "hello", string(s1.events()[0]))
}

func TestMemoryBrokerExcludesSession(t *testing.T) {
	b := NewMemoryBroker()
	s1 := newFakeSubscriber("s1")
	s2 := newFakeSubscriber("s2")

	b.Join("room1", s1)
	b.Join("room1", s2)

	b.Publish("room1", []byte("typing"), "s1")

	assert.Empty(t, s1.events())
	require.Len(t, s2.events(), 1)
}

func TestMemoryBrokerRoomsAreIsolated(t *testing.T) {
	b := NewMemoryBroker()
	s1 := newFakeSubscriber("s1")
	s2 := newFakeSubscriber("s2")

	b.Join("room1", s1)
	b.Join("room2", s2)

	b.Publish("room1", []byte("hello"), "")

	require.Len(t, s1.events(), 1)
	assert.Empty(t, s2.events())
}

func TestMemoryBrokerLeaveStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	s1 := newFakeSubscriber("s1")
	s2 := newFakeSubscriber("s2")

	b.Join("room1", s1)
	b.Join("room1", s2)
	b.Leave("room1", s1)
	// A duplicate leave must not corrupt the membership set.
	b.Leave("room1", s1)

	b.Publish("room1", []byte("hello"), "")

	assert.Empty(t, s1.events())
	require.Len(t, s2.events(), 1)
	assert.Equal(t, 1, b.RoomSize("room1"))
}

func TestMemoryBrokerRoomDisposedOnLastLeave(t *testing.T) {
	b := NewMemoryBroker()
	s1 := newFakeSubscriber("s1")

	b.Join("room1", s1)
	require.Equal(t, 1, b.RoomSize("room1"))

	b.Leave("room1", s1)
	assert.Equal(t, 0, b.RoomSize("room1"))
	assert.Empty(t, b.rooms)
}

func TestMemoryBrokerSlowSubscriberIsolated(t *testing.T) {
	b := NewMemoryBroker()
	slow := newFakeSubscriber("slow")
	slow.full = true
	fast := newFakeSubscriber("fast")

	b.Join("room1", slow)
	b.Join("room1", fast)

	b.Publish("room1", []byte("hello"), "")

	assert.True(t, slow.wasDisconnected())
	require.Len(t, fast.events(), 1)
}

func TestMemoryBrokerConcurrentJoinLeave(t *testing.T) {
	b := NewMemoryBroker()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("s%d", n))
			b.Join("room1", sub)
			b.Publish("room1", []byte("x"), "")
			b.Leave("room1", sub)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, b.RoomSize("room1"))
}
