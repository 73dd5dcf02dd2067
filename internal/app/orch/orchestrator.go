package orch

import (
	"github.com/dkeye/Consult/internal/app"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/telemetry"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

// OnFrame forwards an encoded frame from sid to its room mate.
// It reports whether anyone received it.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) bool {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return false
	}

	res := room.Broadcast(sid, data)
	telemetry.SignalForwarded(res.SendTo > 0)
	if o.Policy == nil {
		return res.SendTo > 0
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(roomID) {
				if snap.Session == slow {
					log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
					o.KickBySID(snap.SID)
					o.Registry.Cancel(snap.SID)
				}
			}
		case app.DropFrame, app.NoAction:
		}
	}
	return res.SendTo > 0
}
