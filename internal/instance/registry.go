// Package instance hosts chatrooms on one process: a room registry, the
// websocket and lookup endpoints, and the heartbeat that keeps the
// process registered with discovery.
package instance

import (
	"sync"

	"github.com/gerber4/searchbuddy/internal/room"
	"github.com/gerber4/searchbuddy/internal/store"
)

// Registry owns every room this instance hosts, keyed by chatroom id.
// Rooms come into being on first use and live until Close.
type Registry struct {
	chats store.ChatStore

	mu    sync.RWMutex
	rooms map[int32]*room.Room
}

// NewRegistry returns an empty registry whose rooms persist chats to the
// given store.
func NewRegistry(chats store.ChatStore) *Registry {
	return &Registry{
		chats: chats,
		rooms: make(map[int32]*room.Room),
	}
}

// Room returns the room for id, creating and starting it on first use.
func (reg *Registry) Room(id int32) *room.Room {
	reg.mu.RLock()
	r, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r
	}
	r = room.New(id, reg.chats)
	reg.rooms[id] = r
	return r
}

// RoomCount reports how many rooms have been materialized.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// UserCount sums the member counts of every room.
func (reg *Registry) UserCount() uint32 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var total uint32
	for _, r := range reg.rooms {
		total += r.UserCount()
	}
	return total
}

// Close shuts down every room, draining queued events first.
func (reg *Registry) Close() {
	reg.mu.Lock()
	rooms := make([]*room.Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[int32]*room.Room)
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
