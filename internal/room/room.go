// Package room implements the chatroom actor. One goroutine per room
// owns the connection map; every other goroutine talks to the room by
// enqueueing events on its mailbox.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gerber4/searchbuddy/internal/metrics"
	"github.com/gerber4/searchbuddy/internal/protocol"
	"github.com/gerber4/searchbuddy/internal/store"
)

// Sender is the write half of one member's connection. The actor is the
// only goroutine that writes to a member after Connect, so
// implementations need no locking of their own.
type Sender interface {
	SendText(data []byte) error
}

// Event is one unit of room work. All events flow through the same
// FIFO mailbox, so any two events observed by a room have a defined
// order.
type Event interface {
	isEvent()
}

// Connect hands a user's write half to the room.
type Connect struct {
	UserID int32
	Conn   Sender
}

// Disconnect detaches a user from the room.
type Disconnect struct {
	UserID int32
}

// Message posts one chat line to the room.
type Message struct {
	Content string
}

// HistoryRequest asks the room to broadcast today's chat log.
type HistoryRequest struct{}

func (Connect) isEvent()        {}
func (Disconnect) isEvent()     {}
func (Message) isEvent()        {}
func (HistoryRequest) isEvent() {}

// Room is one chatroom. The actor goroutine started by New is the sole
// owner of the connection map until Close.
type Room struct {
	id    int32
	chats store.ChatStore

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// conns is actor-owned; nothing outside the event loop touches it.
	conns map[int32]Sender
	users atomic.Int32
}

// New creates a room and starts its actor.
func New(id int32, chats store.ChatStore) *Room {
	r := &Room{
		id:    id,
		chats: chats,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		conns: make(map[int32]Sender),
	}
	go r.run()
	metrics.RoomsOpen.Inc()
	slog.Info("room created", "chatroom_id", id)
	return r
}

// ID returns the chatroom id.
func (r *Room) ID() int32 {
	return r.id
}

// UserCount reports the current member count. It is exact whenever the
// actor is between two events.
func (r *Room) UserCount() uint32 {
	return uint32(r.users.Load())
}

// Send enqueues an event. It never blocks; events sent after Close are
// dropped with a warning.
func (r *Room) Send(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.EventsDropped.Inc()
		slog.Warn("room event dropped", "chatroom_id", r.id, "event", fmt.Sprintf("%T", ev))
		return
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close tears down the mailbox and waits for the actor to drain what
// was already queued. Member sockets are not closed here; their readers
// notice on their own.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
	metrics.RoomsOpen.Dec()
	slog.Info("room closed", "chatroom_id", r.id)
}

func (r *Room) run() {
	defer close(r.done)
	for {
		evs, open := r.take()
		for _, ev := range evs {
			r.dispatch(ev)
		}
		if !open {
			return
		}
	}
}

// take blocks until events arrive or the mailbox closes, then drains
// the whole queue in arrival order.
func (r *Room) take() ([]Event, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			evs := r.queue
			r.queue = nil
			open := !r.closed
			r.mu.Unlock()
			return evs, open
		}
		if r.closed {
			r.mu.Unlock()
			return nil, false
		}
		r.mu.Unlock()
		<-r.wake
	}
}

func (r *Room) dispatch(ev Event) {
	switch ev := ev.(type) {
	case Connect:
		r.handleConnect(ev)
	case Disconnect:
		r.handleDisconnect(ev)
	case Message:
		r.handleMessage(ev)
	case HistoryRequest:
		r.handleHistory()
	}
}

func (r *Room) handleConnect(ev Connect) {
	payload, err := protocol.MarshalServer(protocol.Joined{ChatroomID: r.id})
	if err != nil {
		slog.Error("encode Joined", "chatroom_id", r.id, "err", err)
		return
	}

	r.users.Add(1)
	metrics.ConnectedUsers.Inc()
	if err := ev.Conn.SendText(payload); err != nil {
		// The greeting never reached the member: undo the count and
		// forget the connection without announcing it.
		r.users.Add(-1)
		metrics.ConnectedUsers.Dec()
		metrics.SendFailures.Inc()
		slog.Warn("joined send failed", "chatroom_id", r.id, "user_id", ev.UserID, "err", err)
		return
	}

	r.broadcast(protocol.NewUser{UserID: ev.UserID})
	r.conns[ev.UserID] = ev.Conn
	slog.Info("user connected", "chatroom_id", r.id, "user_id", ev.UserID, "users", r.users.Load())
}

func (r *Room) handleDisconnect(ev Disconnect) {
	if _, ok := r.conns[ev.UserID]; !ok {
		// Already removed by a failed broadcast, or never inserted.
		return
	}
	delete(r.conns, ev.UserID)
	r.users.Add(-1)
	metrics.ConnectedUsers.Dec()
	r.broadcast(protocol.UserDisconnected{UserID: ev.UserID})
	slog.Info("user disconnected", "chatroom_id", r.id, "user_id", ev.UserID, "users", r.users.Load())
}

func (r *Room) handleMessage(ev Message) {
	if err := r.chats.AppendChat(context.Background(), r.id, time.Now(), ev.Content); err != nil {
		slog.Error("persist chat", "chatroom_id", r.id, "err", err)
	}
	metrics.MessagesBroadcast.Inc()
	r.broadcast(protocol.NewMessage{Content: ev.Content})
}

func (r *Room) handleHistory() {
	midnight := store.LocalMidnight(time.Now())
	msgs, err := r.chats.ChatsSince(context.Background(), r.id, midnight)
	if err != nil {
		slog.Error("load chats", "chatroom_id", r.id, "err", err)
		return
	}
	if msgs == nil {
		msgs = []string{}
	}
	r.broadcast(protocol.ChatsFromTodayResponse{Messages: msgs})
}

// broadcast fans msg out to every member. Writers that fail are removed
// and their departure announced to the rest; that announcement can fail
// too, so the loop runs until a pass completes with no failures. The
// connection set strictly shrinks on every iteration.
func (r *Room) broadcast(msg protocol.ServerMessage) {
	payload, err := protocol.MarshalServer(msg)
	if err != nil {
		slog.Error("encode broadcast", "chatroom_id", r.id, "err", err)
		return
	}

	pending := r.sendAll(payload)
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if _, ok := r.conns[id]; !ok {
			continue
		}
		delete(r.conns, id)
		r.users.Add(-1)
		metrics.ConnectedUsers.Dec()
		slog.Warn("member dropped during broadcast", "chatroom_id", r.id, "user_id", id)

		gone, err := protocol.MarshalServer(protocol.UserDisconnected{UserID: id})
		if err != nil {
			slog.Error("encode UserDisconnected", "chatroom_id", r.id, "err", err)
			continue
		}
		pending = append(pending, r.sendAll(gone)...)
	}
}

// sendAll writes payload to every member and returns the ids whose
// writes failed.
func (r *Room) sendAll(payload []byte) []int32 {
	var failed []int32
	for id, conn := range r.conns {
		if err := conn.SendText(payload); err != nil {
			metrics.SendFailures.Inc()
			failed = append(failed, id)
		}
	}
	return failed
}
