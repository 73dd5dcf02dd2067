package session

import (
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
)

// event is anything the controller loop consumes.
type event interface{}

type joinRequest struct {
	room    domain.RoomID
	booking domain.BookingID
	reply   chan error
}

type mediaResult struct {
	media core.LocalMedia
	err   error
	// adopted reports back whether the loop took ownership of media.
	adopted chan bool
}

type joinResult struct{ err error }

type relayEvent struct{ ev core.RelayEvent }

type connectivityEvent struct{ state domain.ConnectivityState }

type localCandidate struct{ c domain.ICECandidate }

type negotiateRequest struct{}

type graceExpired struct {
	cause domain.ReconnectCause
	gen   int
}

type toggleRequest struct {
	kind  domain.MediaKind
	reply chan toggleResult
}

type toggleResult struct {
	enabled bool
	err     error
}

type endRequest struct {
	reason domain.EndReason
	reply  chan struct{}
}
