package domain

import "time"

type BookingID string

// SessionKey identifies the one live session a process may hold for a
// booking and role.
type SessionKey struct {
	Role      Role
	BookingID BookingID
}

type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateAcquiringMedia SessionState = "acquiring_media"
	StateJoining        SessionState = "joining"
	StateNegotiating    SessionState = "negotiating"
	StateConnected      SessionState = "connected"
	StateReconnecting   SessionState = "reconnecting"
	StateEnded          SessionState = "ended"
)

// ReconnectCause tells which link a reconnecting session is waiting for.
type ReconnectCause string

const (
	CauseNone      ReconnectCause = ""
	CauseMedia     ReconnectCause = "media"
	CauseSignaling ReconnectCause = "signaling"
)

type EndReason string

const (
	ReasonNone              EndReason = ""
	ReasonHangup            EndReason = "hangup"
	ReasonRemoteHangup      EndReason = "remote_hangup"
	ReasonConnectionLost    EndReason = "connection_lost"
	ReasonConnectionFailed  EndReason = "connection_failed"
	ReasonSignalingLost     EndReason = "signaling_lost"
	ReasonNegotiationFailed EndReason = "negotiation_failed"
	ReasonMediaError        EndReason = "media_error"
	ReasonJoinFailed        EndReason = "join_failed"
)

// SignalingState is the local position in the offer/answer exchange.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// ConnectivityState mirrors the ICE connection state of the peer link.
type ConnectivityState string

const (
	ConnectivityNew          ConnectivityState = "new"
	ConnectivityChecking     ConnectivityState = "checking"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Session is a read-only snapshot of one call.
type Session struct {
	Key            SessionKey
	RoomID         RoomID
	State          SessionState
	Cause          ReconnectCause
	StartedAt      time.Time
	EndedAt        time.Time
	ElapsedSeconds int64
	EndReason      EndReason
	Err            string
	AudioEnabled   bool
	VideoEnabled   bool
}

func (s Session) Ended() bool { return s.State == StateEnded }
