package core

import (
	"context"

	"github.com/dkeye/Consult/internal/domain"
)

type RelayEventKind int

const (
	RelaySignal RelayEventKind = iota
	RelayPeerJoined
	RelayPeerLeft
	// RelayLost reports that the relay link dropped; the transport keeps
	// redialling until RelayRestored or Close.
	RelayLost
	RelayRestored
)

func (k RelayEventKind) String() string {
	switch k {
	case RelaySignal:
		return "signal"
	case RelayPeerJoined:
		return "peer_joined"
	case RelayPeerLeft:
		return "peer_left"
	case RelayLost:
		return "lost"
	case RelayRestored:
		return "restored"
	}
	return "unknown"
}

// RelayEvent is one notification from the signaling transport.
type RelayEvent struct {
	Kind   RelayEventKind
	Signal domain.SignalMessage
	Role   domain.Role
	Err    error
}

// SignalTransport is the slice of the external relay the session needs.
// Messages sent by the local role are never delivered to subscribers.
type SignalTransport interface {
	Connect(ctx context.Context, authToken string, role domain.Role) error
	Join(ctx context.Context, room domain.RoomID, booking domain.BookingID) error
	// Send fails with domain.ErrNotConnected while the relay link is down.
	Send(msg domain.SignalMessage) error
	Subscribe(fn func(RelayEvent)) (unsubscribe func())
	Leave(ctx context.Context) error
	Close() error
}
