package orch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/dkeye/Consult/internal/telemetry"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

// Join admits sid to the room bound to booking and returns the roles now
// present, including the caller's own. A second connection from the same
// caller replaces the first.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID, booking domain.BookingID) ([]domain.Role, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	if current, _, ok := o.Registry.RoomOf(sid); ok {
		if current == roomID {
			return o.rolesIn(roomID), nil
		}
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(roomID, booking)
	if bound := room.Room().BookingID; bound != booking {
		o.stopIfEmpty(roomID)
		return nil, fmt.Errorf("%w: room %s belongs to another booking", domain.ErrJoinRejected, roomID)
	}

	err := room.AddMember(sid, sess)
	if errors.Is(err, core.ErrRoleTaken) {
		if err = o.reclaimRole(roomID, sess); err == nil {
			// the kick may have stopped the room
			err = o.Rooms.GetOrCreate(roomID, booking).AddMember(sid, sess)
		}
	}
	if err != nil {
		o.stopIfEmpty(roomID)
		return nil, err
	}

	o.Registry.UpdateRoom(sid, roomID)
	telemetry.MemberJoined()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")
	return o.rolesIn(roomID), nil
}

// reclaimRole evicts a stale connection of the same caller. A different
// caller holding the role means the room is full.
func (o *Orchestrator) reclaimRole(roomID domain.RoomID, sess core.MemberSession) error {
	meta := sess.Meta()
	role := meta.Participant.Role
	replaced := false
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		held := snap.Session.Meta()
		if held.Participant.Role != role {
			continue
		}
		if meta.Identity == "" || held.Identity != meta.Identity {
			return fmt.Errorf("%w: %s already present", domain.ErrRoomFull, role)
		}
		log.Info().Str("module", "orch").Str("sid", string(snap.SID)).Str("role", string(role)).Msg("replaced by newer connection")
		o.KickBySID(snap.SID)
		o.Registry.Cancel(snap.SID)
		replaced = true
	}
	if !replaced {
		return fmt.Errorf("%w: %s already present", domain.ErrRoomFull, role)
	}
	return nil
}

// Leave removes sid from its room and returns the room it left.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.RoomID, bool) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", false
	}
	o.KickBySID(sid)
	return roomID, true
}

// Disconnect drops everything bound to sid after its socket closed.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.KickBySID(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMembership(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveRoom(sid)
	telemetry.MemberLeft()
	o.stopIfEmpty(roomID)
}

func (o *Orchestrator) stopIfEmpty(roomID domain.RoomID) {
	if room, ok := o.Rooms.Get(roomID); ok && room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
	}
}

func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
		o.Registry.Cancel(snap.SID)
	}
	o.Rooms.StopRoom(id)
}

func (o *Orchestrator) rolesIn(id domain.RoomID) []domain.Role {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return nil
	}
	members := room.MembersSnapshot()
	out := make([]domain.Role, 0, len(members))
	for _, m := range members {
		out = append(out, m.Role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
