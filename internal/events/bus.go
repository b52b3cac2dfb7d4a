package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus is the in-process broadcast channel: subscribers register per room
// and receive every event published for that room on a buffered channel.
// A subscriber that stops draining loses events rather than blocking the
// publisher.
type Bus struct {
	mu      sync.RWMutex
	rooms   map[string]map[int]chan Event
	nextID  int
	bufSize int
	closed  bool
}

// NewBus creates an in-process event bus. bufSize is the per-subscriber
// channel depth.
func NewBus(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 64
	}
	return &Bus{
		rooms:   make(map[string]map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a listener for one room. The returned cancel func
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(roomID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[int]chan Event)
		b.rooms[roomID] = subs
	}
	id := b.nextID
	b.nextID++
	subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.rooms[roomID]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
				if len(subs) == 0 {
					delete(b.rooms, roomID)
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of the room. Full
// subscriber buffers drop the event for that subscriber only.
func (b *Bus) Publish(roomID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.rooms[roomID] {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("room_id", roomID).
				Str("event", string(ev.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount reports the number of live subscriptions for a room.
func (b *Bus) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for roomID, subs := range b.rooms {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.rooms, roomID)
	}
}
