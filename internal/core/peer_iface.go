package core

import (
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerEngine owns one peer connection and its offer/answer state.
// It is not safe for concurrent use: the session actor serializes calls.
// Event callbacks fire on engine goroutines.
type PeerEngine interface {
	// AttachLocalTracks adds every track of m to the connection.
	AttachLocalTracks(m LocalMedia) error
	// CreateOffer creates and applies a local offer. iceRestart opens a new
	// candidate round.
	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	// ApplyRemoteDescription fails with domain.ErrInvalidNegotiationState when
	// the signaling state does not accept sd, and drains queued candidates on
	// success.
	ApplyRemoteDescription(sd domain.SessionDescription) error
	CreateAnswerAndApply() (domain.SessionDescription, error)
	// Rollback discards an outstanding local offer.
	Rollback() error
	// AddICECandidate queues c until a remote description exists.
	AddICECandidate(c domain.ICECandidate) error
	SetTrackEnabled(kind domain.MediaKind, enabled bool) error
	SignalingState() domain.SignalingState
	PendingCandidates() int
	Close()

	OnICECandidate(func(domain.ICECandidate))
	OnConnectivityChange(func(domain.ConnectivityState))
	OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
}

// EngineFactory builds an engine suited to the given local media.
type EngineFactory func(m LocalMedia) (PeerEngine, error)
