package session

import (
	"fmt"
	"time"

	"github.com/dkeye/Consult/internal/app/negotiation"
	"github.com/dkeye/Consult/internal/config"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
)

type Config struct {
	Role      domain.Role
	AuthToken string
	Policy    negotiation.Policy

	// GraceWindow bounds a media interruption, SignalingGrace a relay one.
	GraceWindow    time.Duration
	SignalingGrace time.Duration
	Debounce       time.Duration
	JoinTimeout    time.Duration
	LeaveTimeout   time.Duration

	Constraints core.Constraints
}

func ConfigFrom(c config.CallConfig) (Config, error) {
	role, err := domain.ParseRole(c.Role)
	if err != nil {
		return Config{}, fmt.Errorf("call.role: %w", err)
	}
	initiator, err := domain.ParseRole(c.InitiatorRole)
	if err != nil {
		return Config{}, fmt.Errorf("call.initiator_role: %w", err)
	}
	polite, err := domain.ParseRole(c.PoliteRole)
	if err != nil {
		return Config{}, fmt.Errorf("call.polite_role: %w", err)
	}
	return Config{
		Role:           role,
		AuthToken:      c.AuthToken,
		Policy:         negotiation.NewPolicy(role, initiator, polite),
		GraceWindow:    c.GraceWindow,
		SignalingGrace: c.SignalingGrace,
		Debounce:       c.NegotiationDebounce,
		JoinTimeout:    c.JoinTimeout,
		Constraints: core.Constraints{
			Audio:     c.Media.Audio,
			Video:     c.Media.Video,
			MaxWidth:  c.Media.MaxWidth,
			MaxHeight: c.Media.MaxHeight,
		},
	}, nil
}

func (c *Config) withDefaults() {
	if !c.Policy.Local.Valid() {
		c.Policy = negotiation.NewPolicy(c.Role, domain.RoleDoctor, domain.RolePatient)
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 10 * time.Second
	}
	if c.SignalingGrace <= 0 {
		c.SignalingGrace = 10 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 2 * time.Second
	}
}
