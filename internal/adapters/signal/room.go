package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, f domain.Frame) {
	if f.RoomID == "" || f.BookingID == "" {
		ctl.sendError(conn, "room and booking required")
		return
	}
	if !ctl.Limiter.Allow(conn.key) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	if sess, ok := ctl.Orch.Registry.GetSession(sid); ok {
		sess.Meta().BookingID = f.BookingID
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(f.RoomID)).Msg("join")
	peers, err := ctl.Orch.Join(sid, f.RoomID, f.BookingID)
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		ctl.sendFrame(conn, domain.Frame{Event: domain.EventRoomFull, RoomID: f.RoomID, Error: err.Error()})
		return
	case err != nil:
		ctl.sendFrame(conn, domain.Frame{Event: domain.EventError, RoomID: f.RoomID, Error: err.Error()})
		return
	}

	ctl.sendFrame(conn, domain.Frame{Event: domain.EventJoined, RoomID: f.RoomID, Peers: peers})
	ctl.BroadcastFrom(sid, domain.Frame{Event: domain.EventPeerJoin, RoomID: f.RoomID, SenderRole: conn.role})
}

// handleLeave tells the room mate and keeps the socket open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	_, sess, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		return
	}
	mates := ctl.Orch.Registry.RoomMates(sid)
	roomID, _ := ctl.Orch.Leave(sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("leave")

	left := domain.Frame{Event: domain.EventPeerLeft, RoomID: roomID, SenderRole: sess.Meta().Participant.Role}
	for _, mate := range mates {
		ctl.sendFrame(mate.Session.Signal(), left)
	}
}

// handleRelaySignal forwards SDP and candidates to the room mate after
// checking that the sender speaks for its own role and room.
func (ctl *SignalWSController) handleRelaySignal(sid core.SessionID, conn *WsSignalConn, f domain.Frame) {
	msg, err := f.Signal()
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	roomID, sess, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	if msg.RoomID != roomID || msg.SenderRole != sess.Meta().Participant.Role {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("signal sender mismatch")
		ctl.sendError(conn, "sender_mismatch")
		return
	}

	data, err := json.Marshal(domain.SignalFrame(msg))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("signal marshal")
		return
	}
	if !ctl.Orch.OnFrame(sid, data) {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("signal not delivered")
	}
}
