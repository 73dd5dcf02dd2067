package negotiation

import (
	"fmt"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/dkeye/Consult/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Policy fixes who offers first and who yields on glare.
type Policy struct {
	Local     domain.Role
	Initiator domain.Role
	Polite    bool
}

func NewPolicy(local, initiator, polite domain.Role) Policy {
	return Policy{Local: local, Initiator: initiator, Polite: local == polite}
}

// Initiates reports whether the local role sends the first offer.
func (p Policy) Initiates() bool { return p.Local == p.Initiator }

// yields decides glare from both politeness claims. When they differ the
// polite side yields; when they agree, or the remote sent none, the role
// tie-break does. Both peers reach the same verdict whatever their config.
func (p Policy) yields(remotePolite *bool) bool {
	if remotePolite != nil && *remotePolite != p.Polite {
		return p.Polite
	}
	return p.Local.YieldsOnTie()
}

// SendFunc delivers a local description to the remote peer.
type SendFunc func(domain.SessionDescription) error

// Coordinator drives the offer/answer exchange of one engine. All methods
// must be called from the session's event loop.
type Coordinator struct {
	engine core.PeerEngine
	send   SendFunc
	policy Policy
	log    zerolog.Logger

	pending        bool
	pendingRestart bool
	failures       int
	rounds         int
}

func New(engine core.PeerEngine, policy Policy, send SendFunc) *Coordinator {
	return &Coordinator{
		engine: engine,
		send:   send,
		policy: policy,
		log: log.With().
			Str("module", "negotiation").
			Str("role", policy.Local.String()).
			Bool("polite", policy.Polite).
			Logger(),
	}
}

// RenegotiationNeeded offers now when stable, otherwise marks one pending
// request. Repeated calls while busy collapse into that one request.
func (c *Coordinator) RenegotiationNeeded() error {
	return c.request(false)
}

// RestartICE is RenegotiationNeeded with an ICE restart offer.
func (c *Coordinator) RestartICE() error {
	return c.request(true)
}

func (c *Coordinator) request(restart bool) error {
	if st := c.engine.SignalingState(); st != domain.SignalingStable {
		if !c.pending {
			telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationQueued)
		}
		c.pending = true
		c.pendingRestart = c.pendingRestart || restart
		c.log.Debug().Str("signaling", string(st)).Bool("ice_restart", c.pendingRestart).Msg("renegotiation queued")
		return nil
	}
	return c.offer(restart)
}

// Pending reports whether a renegotiation waits for stable.
func (c *Coordinator) Pending() bool { return c.pending }

// Rounds counts completed offer/answer exchanges.
func (c *Coordinator) Rounds() int { return c.rounds }

func (c *Coordinator) offer(restart bool) error {
	sd, err := c.engine.CreateOffer(restart)
	if err != nil {
		return c.recover(err, func() error { return c.offer(restart) })
	}
	polite := c.policy.Polite
	sd.Polite = &polite
	telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationOffer)
	c.log.Info().Bool("ice_restart", restart).Msg("sending offer")
	return c.send(sd)
}

// HandleDescription applies a description received from the remote role.
func (c *Coordinator) HandleDescription(from domain.Role, sd domain.SessionDescription) error {
	switch sd.Type {
	case domain.SDPOffer:
		return c.handleOffer(from, sd)
	case domain.SDPAnswer:
		if c.engine.SignalingState() == domain.SignalingStable {
			telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationIgnored)
			c.log.Debug().Str("from", from.String()).Msg("answer without a local offer, dropped")
			return nil
		}
		if err := c.engine.ApplyRemoteDescription(sd); err != nil {
			return c.recover(err, c.reoffer)
		}
		c.log.Info().Msg("answer applied")
		return c.settled()
	}
	return fmt.Errorf("%w: type %q", domain.ErrInvalidDescription, sd.Type)
}

func (c *Coordinator) handleOffer(from domain.Role, sd domain.SessionDescription) error {
	if c.engine.SignalingState() == domain.SignalingHaveLocalOffer {
		if !c.policy.yields(sd.Polite) {
			telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationIgnored)
			c.log.Info().Str("from", from.String()).Msg("offer collision, keeping local offer")
			return nil
		}
		telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationYielded)
		c.log.Info().Str("from", from.String()).Msg("offer collision, rolling back local offer")
		if err := c.engine.Rollback(); err != nil {
			return err
		}
	}
	if err := c.engine.ApplyRemoteDescription(sd); err != nil {
		return c.recover(err, func() error { return c.handleOffer(from, sd) })
	}
	return c.answer()
}

func (c *Coordinator) answer() error {
	answer, err := c.engine.CreateAnswerAndApply()
	if err != nil {
		return c.recover(err, c.answer)
	}
	telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationAnswer)
	if err := c.send(answer); err != nil {
		return err
	}
	c.log.Info().Msg("answer sent")
	return c.settled()
}

// reoffer starts a fresh round after a rejected answer.
func (c *Coordinator) reoffer() error {
	if c.engine.SignalingState() == domain.SignalingHaveLocalOffer {
		if err := c.engine.Rollback(); err != nil {
			return err
		}
	}
	restart := c.pendingRestart
	c.pending, c.pendingRestart = false, false
	return c.offer(restart)
}

// settled runs after the engine reached stable through a completed round.
func (c *Coordinator) settled() error {
	c.failures = 0
	c.rounds++
	telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationCompleted)
	if !c.pending {
		return nil
	}
	restart := c.pendingRestart
	c.pending, c.pendingRestart = false, false
	return c.offer(restart)
}

// recover gives a negotiation error one retry of the failed step. A second
// consecutive error is fatal.
func (c *Coordinator) recover(err error, retry func() error) error {
	if !domain.IsNegotiationError(err) {
		return err
	}
	c.failures++
	if c.failures > 1 {
		telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationFailed)
		c.log.Error().Err(err).Msg("negotiation failed twice")
		return fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}
	telemetry.NegotiationEvent(c.policy.Local, telemetry.NegotiationRetry)
	c.log.Warn().Err(err).Msg("negotiation error, retrying")
	return retry()
}
