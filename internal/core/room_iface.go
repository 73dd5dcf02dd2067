package core

import (
	"errors"

	"github.com/dkeye/Consult/internal/domain"
)

var ErrRoleTaken = errors.New("role already present in room")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.ParticipantID `json:"id"`
	Role domain.Role          `json:"role"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	// AddMember fails with domain.ErrRoomFull or ErrRoleTaken.
	AddMember(sid SessionID, ms MemberSession) error
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID    `json:"id"`
	BookingID   domain.BookingID `json:"booking_id"`
	MemberCount int              `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID, booking domain.BookingID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
