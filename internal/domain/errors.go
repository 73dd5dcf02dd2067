package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive = errors.New("session already active")
	ErrSessionEnded  = errors.New("session ended")
	ErrNotJoined     = errors.New("session not joined")

	ErrInvalidNegotiationState = errors.New("invalid negotiation state")
	ErrInvalidDescription      = errors.New("invalid session description")
	ErrNegotiationFailed       = errors.New("negotiation failed")
	ErrEngineClosed            = errors.New("peer engine closed")

	ErrNotConnected  = errors.New("signaling transport not connected")
	ErrBackpressure  = errors.New("backpressure")
	ErrRoomFull      = errors.New("room full")
	ErrJoinRejected  = errors.New("join rejected")
	ErrInvalidSignal = errors.New("invalid signal message")

	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrMediaUnknown      = errors.New("media acquisition failed")
)

type MediaErrorKind string

const (
	MediaPermissionDenied  MediaErrorKind = "permission_denied"
	MediaDeviceUnavailable MediaErrorKind = "device_unavailable"
	MediaUnknown           MediaErrorKind = "unknown"
)

// MediaError is returned by media sources. It matches the sentinel of its
// kind with errors.Is and keeps the driver error for errors.Unwrap.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func NewMediaError(kind MediaErrorKind, err error) *MediaError {
	return &MediaError{Kind: kind, Err: err}
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media %s", e.Kind)
	}
	return fmt.Sprintf("media %s: %v", e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

func (e *MediaError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == MediaPermissionDenied
	case ErrDeviceUnavailable:
		return e.Kind == MediaDeviceUnavailable
	case ErrMediaUnknown:
		return e.Kind == MediaUnknown
	}
	return false
}

// IsNegotiationError reports whether err is a recoverable offer/answer failure.
func IsNegotiationError(err error) bool {
	return errors.Is(err, ErrInvalidNegotiationState) || errors.Is(err, ErrInvalidDescription)
}
