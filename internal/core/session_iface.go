package core

import "github.com/dkeye/Consult/internal/domain"

type SessionID string

// MemberSession binds domain.Member and its relay endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
