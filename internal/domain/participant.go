// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxTokenLen = 512

var (
	ErrTokenEmpty   = errors.New("auth token empty")
	ErrTokenTooLong = errors.New("auth token too long")
)

type ParticipantID string

// Participant is a relay connection bound to a role.
type Participant struct {
	ID   ParticipantID `json:"id"`
	Role Role          `json:"role"`
}

// NewParticipant avoids ad-hoc struct literals in adapters.
func NewParticipant(role Role) (*Participant, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	id := ParticipantID(uuid.NewString())
	return &Participant{ID: id, Role: role}, nil
}

// ValidateToken checks only the shape of a bearer token; authentication
// belongs to the booking platform.
func ValidateToken(token string) error {
	if len(token) == 0 {
		return ErrTokenEmpty
	}
	if len(token) > MaxTokenLen {
		return ErrTokenTooLong
	}
	return nil
}
