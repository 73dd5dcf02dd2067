package corefakes

import (
	"context"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
)

// FakeTransport records what the session sends and lets tests inject relay
// events. Transports made by a FakeRelay also reach each other.
type FakeTransport struct {
	Journal    *Journal
	ConnectErr error
	JoinErr    error

	relay *FakeRelay

	mu       sync.Mutex
	role     domain.Role
	room     domain.RoomID
	booking  domain.BookingID
	lost     bool
	sent     []domain.SignalMessage
	handlers map[int]func(core.RelayEvent)
	nextID   int
	leaves   int
	closes   int
}

var _ core.SignalTransport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{handlers: make(map[int]func(core.RelayEvent))}
}

func (t *FakeTransport) Connect(_ context.Context, _ string, role domain.Role) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.role = role
	return t.ConnectErr
}

func (t *FakeTransport) Join(_ context.Context, room domain.RoomID, booking domain.BookingID) error {
	t.mu.Lock()
	if t.JoinErr != nil {
		t.mu.Unlock()
		return t.JoinErr
	}
	t.room, t.booking = room, booking
	t.mu.Unlock()
	if t.relay != nil {
		t.relay.join(t, room)
	}
	return nil
}

func (t *FakeTransport) Send(msg domain.SignalMessage) error {
	t.mu.Lock()
	if t.lost || t.closes > 0 {
		t.mu.Unlock()
		return domain.ErrNotConnected
	}
	t.sent = append(t.sent, msg)
	t.mu.Unlock()
	if t.relay != nil {
		t.relay.forward(t, msg)
	}
	return nil
}

func (t *FakeTransport) Subscribe(fn func(core.RelayEvent)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		_, ok := t.handlers[id]
		delete(t.handlers, id)
		t.mu.Unlock()
		if ok {
			t.Journal.Record("transport.unsubscribe")
		}
	}
}

func (t *FakeTransport) Leave(context.Context) error {
	t.mu.Lock()
	t.leaves++
	t.mu.Unlock()
	t.Journal.Record("transport.leave")
	if t.relay != nil {
		t.relay.leave(t)
	}
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	t.Journal.Record("transport.close")
	return nil
}

// Deliver hands ev to every subscriber, dropping self-echoed signals the way
// the relay client does.
func (t *FakeTransport) Deliver(ev core.RelayEvent) {
	t.mu.Lock()
	if ev.Kind == core.RelaySignal && ev.Signal.SenderRole == t.role {
		t.mu.Unlock()
		return
	}
	fns := make([]func(core.RelayEvent), 0, len(t.handlers))
	for _, fn := range t.handlers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SetLost flips the link and notifies subscribers.
func (t *FakeTransport) SetLost(lost bool) {
	t.mu.Lock()
	t.lost = lost
	t.mu.Unlock()
	if lost {
		t.Deliver(core.RelayEvent{Kind: core.RelayLost})
		return
	}
	t.Deliver(core.RelayEvent{Kind: core.RelayRestored})
}

func (t *FakeTransport) Role() domain.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role
}

func (t *FakeTransport) Sent() []domain.SignalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.SignalMessage(nil), t.sent...)
}

func (t *FakeTransport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

func (t *FakeTransport) Joined() (domain.RoomID, domain.BookingID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room, t.booking
}

func (t *FakeTransport) Leaves() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaves
}

func (t *FakeTransport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// FakeRelay is an in-memory relay: presence events on join and leave, and
// signal fan-out to the other members of the room.
type FakeRelay struct {
	mu    sync.Mutex
	rooms map[domain.RoomID][]*FakeTransport
}

func NewFakeRelay() *FakeRelay {
	return &FakeRelay{rooms: make(map[domain.RoomID][]*FakeTransport)}
}

func (r *FakeRelay) Transport() *FakeTransport {
	t := NewFakeTransport()
	t.relay = r
	return t
}

func (r *FakeRelay) join(t *FakeTransport, room domain.RoomID) {
	r.mu.Lock()
	peers := append([]*FakeTransport(nil), r.rooms[room]...)
	r.rooms[room] = append(r.rooms[room], t)
	r.mu.Unlock()
	for _, p := range peers {
		t.Deliver(core.RelayEvent{Kind: core.RelayPeerJoined, Role: p.Role()})
		p.Deliver(core.RelayEvent{Kind: core.RelayPeerJoined, Role: t.Role()})
	}
}

func (r *FakeRelay) others(t *FakeTransport, room domain.RoomID) []*FakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*FakeTransport
	for _, p := range r.rooms[room] {
		if p != t {
			out = append(out, p)
		}
	}
	return out
}

func (r *FakeRelay) forward(from *FakeTransport, msg domain.SignalMessage) {
	for _, p := range r.others(from, msg.RoomID) {
		p.Deliver(core.RelayEvent{Kind: core.RelaySignal, Signal: msg})
	}
}

func (r *FakeRelay) leave(t *FakeTransport) {
	room, _ := t.Joined()
	peers := r.others(t, room)
	r.mu.Lock()
	r.rooms[room] = peers
	r.mu.Unlock()
	for _, p := range peers {
		p.Deliver(core.RelayEvent{Kind: core.RelayPeerLeft, Role: t.Role()})
	}
}
