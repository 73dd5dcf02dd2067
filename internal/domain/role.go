package domain

import (
	"errors"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the side of the consultation a participant plays.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDoctor:
		return RoleDoctor, nil
	case RolePatient:
		return RolePatient, nil
	}
	return "", ErrUnknownRole
}

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Peer returns the role on the other end of a consultation.
func (r Role) Peer() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// YieldsOnTie reports whether r backs down on glare when both peers claim
// the same politeness. Exactly one role does.
func (r Role) YieldsOnTie() bool { return r == RolePatient }

func (r Role) String() string { return string(r) }
