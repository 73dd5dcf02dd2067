package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/dkeye/Consult/internal/app/negotiation"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/dkeye/Consult/internal/telemetry"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const inboxSize = 256

var errSend = errors.New("send signal")

// Deps are the collaborators a Controller drives. The controller owns the
// transport and closes it on End.
type Deps struct {
	Media     core.MediaSource
	Engines   core.EngineFactory
	Transport core.SignalTransport
	Clock     clock.Clock
	Registry  *Registry
}

// Controller runs one call. Every state change happens on its own loop
// goroutine; the public methods post requests to that loop and wait.
type Controller struct {
	cfg       Config
	source    core.MediaSource
	engines   core.EngineFactory
	transport core.SignalTransport
	clock     clock.Clock
	registry  *Registry
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan event
	done   chan struct{}

	mu          sync.RWMutex
	snap        domain.Session
	elapsedBase time.Duration
	connectedAt time.Time
	onState     func(domain.Session)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	local       core.LocalMedia
	engine      core.PeerEngine
	coord       *negotiation.Coordinator
	unsubscribe func()
	joinReply   chan error
	claimed     bool
	joined      bool
	ended       bool
	peerPresent bool
	mediaUp     bool
	mediaDown   bool
	sigLost     bool
	graceGen    int
	sigGen      int
	graceTimer  *clock.Timer
	sigTimer    *clock.Timer
	ticker      *clock.Ticker
	outbox      []domain.SignalMessage
	debounced   func(func())
}

func New(cfg Config, deps Deps) *Controller {
	cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Registry == nil {
		deps.Registry = processRegistry
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg,
		source:    deps.Media,
		engines:   deps.Engines,
		transport: deps.Transport,
		clock:     deps.Clock,
		registry:  deps.Registry,
		log:       log.With().Str("module", "session").Str("role", cfg.Role.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan event, inboxSize),
		done:      make(chan struct{}),
		snap: domain.Session{
			Key:          domain.SessionKey{Role: cfg.Role},
			State:        domain.StateIdle,
			AudioEnabled: cfg.Constraints.Audio,
			VideoEnabled: cfg.Constraints.Video,
		},
	}
	if cfg.Debounce > 0 {
		c.debounced = debounce.New(cfg.Debounce)
	}
	go c.run()
	return c
}

// Join acquires media, joins the relay room and returns once negotiation
// can start. Cancelling ctx ends the session.
func (c *Controller) Join(ctx context.Context, room domain.RoomID, booking domain.BookingID) error {
	reply := make(chan error, 1)
	if !c.post(joinRequest{room: room, booking: booking, reply: reply}) {
		return domain.ErrSessionEnded
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		_ = c.End(domain.ReasonHangup)
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrSessionEnded
		}
	}
}

// ToggleAudio flips the microphone and returns whether it is now enabled.
func (c *Controller) ToggleAudio() (bool, error) { return c.toggle(domain.MediaAudio) }

// ToggleVideo flips the camera and returns whether it is now enabled.
func (c *Controller) ToggleVideo() (bool, error) { return c.toggle(domain.MediaVideo) }

func (c *Controller) toggle(kind domain.MediaKind) (bool, error) {
	reply := make(chan toggleResult, 1)
	if !c.post(toggleRequest{kind: kind, reply: reply}) {
		return false, domain.ErrSessionEnded
	}
	select {
	case r := <-reply:
		return r.enabled, r.err
	case <-c.done:
		select {
		case r := <-reply:
			return r.enabled, r.err
		default:
			return false, domain.ErrSessionEnded
		}
	}
}

// End tears the session down. Calling it again is a no-op.
func (c *Controller) End(reason domain.EndReason) error {
	reply := make(chan struct{})
	if !c.post(endRequest{reason: reason, reply: reply}) {
		return nil
	}
	select {
	case <-reply:
	case <-c.done:
	}
	return nil
}

func (c *Controller) Snapshot() domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.ElapsedSeconds = int64(c.elapsedLocked() / time.Second)
	return s
}

// OnStateChange registers fn for state changes and connected-time ticks.
// fn runs on the session loop and must not call back into the controller.
func (c *Controller) OnStateChange(fn func(domain.Session)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnRemoteTrack must be set before Join.
func (c *Controller) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// Done is closed once the session has ended and released everything.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(ev event) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for !c.ended {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C
		}
		select {
		case ev := <-c.inbox:
			c.handle(ev)
		case <-tick:
			c.notify()
		}
	}
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case joinRequest:
		c.handleJoin(e)
	case mediaResult:
		c.handleMedia(e)
	case joinResult:
		c.handleJoined(e)
	case relayEvent:
		c.handleRelay(e.ev)
	case connectivityEvent:
		c.handleConnectivity(e.state)
	case localCandidate:
		if c.ended {
			return
		}
		if err := c.sendSignal(domain.NewCandidateSignal(c.snap.RoomID, c.cfg.Role, e.c)); err != nil {
			c.end(reasonFor(err), err)
		}
	case negotiateRequest:
		c.negotiate()
	case graceExpired:
		c.handleGrace(e)
	case toggleRequest:
		e.reply <- c.handleToggle(e.kind)
	case endRequest:
		c.end(e.reason, nil)
		close(e.reply)
	}
}

func (c *Controller) handleJoin(r joinRequest) {
	if c.ended {
		r.reply <- domain.ErrSessionEnded
		return
	}
	if c.snap.State != domain.StateIdle {
		r.reply <- domain.ErrSessionActive
		return
	}
	key := domain.SessionKey{Role: c.cfg.Role, BookingID: r.booking}
	if err := c.registry.Claim(key, c); err != nil {
		r.reply <- err
		return
	}
	c.claimed = true
	c.joinReply = r.reply
	c.log = c.log.With().Str("room", string(r.room)).Str("booking", string(r.booking)).Logger()
	c.update(func(s *domain.Session) {
		s.Key = key
		s.RoomID = r.room
		s.StartedAt = c.clock.Now()
		s.State = domain.StateAcquiringMedia
	})
	telemetry.SessionStarted()
	c.log.Info().Msg("acquiring media")
	go c.acquire()
}

// acquire waits on the media source off the loop. Media the loop does not
// adopt, because the session ended meanwhile, is released here.
func (c *Controller) acquire() {
	m, err := c.source.Acquire(c.ctx, c.cfg.Constraints)
	res := mediaResult{media: m, err: err, adopted: make(chan bool, 1)}
	release := func() {
		if m != nil {
			m.Release()
		}
	}
	if !c.post(res) {
		release()
		return
	}
	select {
	case ok := <-res.adopted:
		if !ok {
			release()
		}
	case <-c.done:
		select {
		case ok := <-res.adopted:
			if !ok {
				release()
			}
		default:
			release()
		}
	}
}

func (c *Controller) handleMedia(r mediaResult) {
	if c.ended || r.err != nil {
		r.adopted <- false
		if !c.ended {
			c.end(domain.ReasonMediaError, fmt.Errorf("acquire media: %w", r.err))
		}
		return
	}
	c.local = r.media
	r.adopted <- true

	engine, err := c.engines(c.local)
	if err != nil {
		c.end(domain.ReasonConnectionFailed, fmt.Errorf("create peer engine: %w", err))
		return
	}
	c.engine = engine
	engine.OnICECandidate(func(cand domain.ICECandidate) { c.post(localCandidate{c: cand}) })
	engine.OnConnectivityChange(func(s domain.ConnectivityState) { c.post(connectivityEvent{state: s}) })
	c.mu.RLock()
	onTrack := c.onTrack
	c.mu.RUnlock()
	if onTrack != nil {
		engine.OnRemoteTrack(onTrack)
	}
	if err := engine.AttachLocalTracks(c.local); err != nil {
		c.end(domain.ReasonMediaError, fmt.Errorf("attach tracks: %w", err))
		return
	}
	c.coord = negotiation.New(engine, c.cfg.Policy, c.sendDescription)
	c.unsubscribe = c.transport.Subscribe(func(ev core.RelayEvent) { c.post(relayEvent{ev: ev}) })
	c.setState(domain.StateJoining, domain.CauseNone)

	room, booking := c.snap.RoomID, c.snap.Key.BookingID
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.JoinTimeout)
		defer cancel()
		err := c.transport.Connect(ctx, c.cfg.AuthToken, c.cfg.Role)
		if err == nil {
			err = c.transport.Join(ctx, room, booking)
		}
		c.post(joinResult{err: err})
	}()
}

func (c *Controller) handleJoined(r joinResult) {
	if c.ended {
		return
	}
	if r.err != nil {
		c.end(domain.ReasonJoinFailed, fmt.Errorf("join room: %w", r.err))
		return
	}
	c.joined = true
	c.refreshState()
	c.log.Info().Bool("peer_present", c.peerPresent).Msg("joined room")
	c.replyJoin(nil)
	if c.peerPresent && c.cfg.Policy.Initiates() {
		c.requestNegotiation()
	}
}

func (c *Controller) handleRelay(ev core.RelayEvent) {
	if c.ended {
		return
	}
	switch ev.Kind {
	case core.RelaySignal:
		c.handleSignal(ev.Signal)
	case core.RelayPeerJoined:
		if ev.Role == c.cfg.Role {
			return
		}
		c.peerPresent = true
		c.log.Info().Str("peer", ev.Role.String()).Msg("peer joined")
		if !c.joined || !c.cfg.Policy.Initiates() {
			return
		}
		switch {
		case c.coord.Rounds() == 0:
			c.requestNegotiation()
		case !c.mediaUp:
			if err := c.coord.RestartICE(); err != nil {
				c.end(reasonFor(err), err)
			}
		}
	case core.RelayPeerLeft:
		if ev.Role == c.cfg.Role || !c.joined {
			return
		}
		c.log.Info().Str("peer", ev.Role.String()).Msg("peer left")
		c.end(domain.ReasonRemoteHangup, nil)
	case core.RelayLost:
		c.signalingLost(ev.Err)
	case core.RelayRestored:
		c.signalingRestored()
	}
}

func (c *Controller) handleSignal(m domain.SignalMessage) {
	if c.coord == nil || m.RoomID != c.snap.RoomID || m.SenderRole == c.cfg.Role {
		return
	}
	c.peerPresent = true
	switch {
	case m.SignalData.SDP != nil:
		if err := c.coord.HandleDescription(m.SenderRole, *m.SignalData.SDP); err != nil {
			c.end(reasonFor(err), err)
		}
	case m.SignalData.Candidate != nil:
		if err := c.engine.AddICECandidate(*m.SignalData.Candidate); err != nil {
			c.log.Warn().Err(err).Msg("remote candidate rejected")
		}
	}
}

func (c *Controller) requestNegotiation() {
	if c.debounced == nil {
		c.negotiate()
		return
	}
	c.debounced(func() { c.post(negotiateRequest{}) })
}

func (c *Controller) negotiate() {
	if c.ended || c.coord == nil {
		return
	}
	if err := c.coord.RenegotiationNeeded(); err != nil {
		c.end(reasonFor(err), err)
	}
}

func (c *Controller) handleConnectivity(s domain.ConnectivityState) {
	if c.ended || c.engine == nil {
		return
	}
	c.log.Info().Str("connectivity", string(s)).Msg("connectivity changed")
	switch s {
	case domain.ConnectivityConnected:
		recovered := c.mediaDown
		c.stopGrace()
		c.mediaDown = false
		if !c.mediaUp {
			c.mediaUp = true
			c.startClock()
		}
		if recovered {
			telemetry.Reconnect(c.cfg.Role, domain.CauseMedia, true)
		}
	case domain.ConnectivityDisconnected:
		if c.mediaDown {
			return
		}
		c.mediaDown = true
		if c.mediaUp {
			c.mediaUp = false
			c.stopClock()
		}
		c.startGrace()
		if c.cfg.Policy.Initiates() {
			if err := c.coord.RestartICE(); err != nil {
				c.end(reasonFor(err), err)
				return
			}
		}
	case domain.ConnectivityFailed, domain.ConnectivityClosed:
		c.end(domain.ReasonConnectionFailed, fmt.Errorf("ice connectivity %s", s))
		return
	}
	c.refreshState()
}

func (c *Controller) startGrace() {
	c.graceGen++
	gen := c.graceGen
	c.graceTimer = c.clock.AfterFunc(c.cfg.GraceWindow, func() {
		c.post(graceExpired{cause: domain.CauseMedia, gen: gen})
	})
}

func (c *Controller) stopGrace() {
	c.graceGen++
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Controller) signalingLost(err error) {
	if !c.joined || c.sigLost {
		return
	}
	c.sigLost = true
	c.log.Warn().Err(err).Dur("grace", c.cfg.SignalingGrace).Msg("relay lost")
	c.sigGen++
	gen := c.sigGen
	c.sigTimer = c.clock.AfterFunc(c.cfg.SignalingGrace, func() {
		c.post(graceExpired{cause: domain.CauseSignaling, gen: gen})
	})
	c.refreshState()
}

func (c *Controller) stopSignalingTimer() {
	c.sigGen++
	if c.sigTimer != nil {
		c.sigTimer.Stop()
		c.sigTimer = nil
	}
}

func (c *Controller) signalingRestored() {
	if !c.sigLost {
		return
	}
	c.stopSignalingTimer()
	c.sigLost = false
	telemetry.Reconnect(c.cfg.Role, domain.CauseSignaling, true)
	c.log.Info().Int("buffered", len(c.outbox)).Msg("relay restored")
	if err := c.flush(); err != nil {
		c.end(reasonFor(err), err)
		return
	}
	c.refreshState()
}

func (c *Controller) handleGrace(e graceExpired) {
	if c.ended {
		return
	}
	switch e.cause {
	case domain.CauseMedia:
		if e.gen != c.graceGen || !c.mediaDown {
			return
		}
		telemetry.Reconnect(c.cfg.Role, domain.CauseMedia, false)
		c.end(domain.ReasonConnectionLost, fmt.Errorf("connectivity not restored within %s", c.cfg.GraceWindow))
	case domain.CauseSignaling:
		if e.gen != c.sigGen || !c.sigLost {
			return
		}
		telemetry.Reconnect(c.cfg.Role, domain.CauseSignaling, false)
		c.end(domain.ReasonSignalingLost, fmt.Errorf("relay not restored within %s", c.cfg.SignalingGrace))
	}
}

func (c *Controller) handleToggle(kind domain.MediaKind) toggleResult {
	if c.ended {
		return toggleResult{err: domain.ErrSessionEnded}
	}
	if c.engine == nil || c.local == nil {
		return toggleResult{err: domain.ErrNotJoined}
	}
	enabled := !c.snap.AudioEnabled
	if kind == domain.MediaVideo {
		enabled = !c.snap.VideoEnabled
	}
	if err := c.engine.SetTrackEnabled(kind, enabled); err != nil {
		return toggleResult{err: err}
	}
	c.local.SetEnabled(kind, enabled)
	c.update(func(s *domain.Session) {
		if kind == domain.MediaVideo {
			s.VideoEnabled = enabled
		} else {
			s.AudioEnabled = enabled
		}
	})
	c.log.Info().Str("kind", string(kind)).Bool("enabled", enabled).Msg("track toggled")
	return toggleResult{enabled: enabled}
}

func (c *Controller) sendDescription(sd domain.SessionDescription) error {
	return c.sendSignal(domain.NewDescriptionSignal(c.snap.RoomID, c.cfg.Role, sd))
}

// sendSignal keeps outbound order: while the relay is down, or older
// messages are still buffered, m joins the buffer.
func (c *Controller) sendSignal(m domain.SignalMessage) error {
	if !c.sigLost {
		if err := c.flush(); err != nil {
			return err
		}
	}
	if c.sigLost || len(c.outbox) > 0 {
		c.outbox = append(c.outbox, m)
		return nil
	}
	err := c.transport.Send(m)
	if errors.Is(err, domain.ErrNotConnected) {
		c.outbox = append(c.outbox, m)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errSend, err)
	}
	return nil
}

func (c *Controller) flush() error {
	for len(c.outbox) > 0 {
		err := c.transport.Send(c.outbox[0])
		if errors.Is(err, domain.ErrNotConnected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", errSend, err)
		}
		c.outbox = c.outbox[1:]
	}
	return nil
}

// reasonFor classifies an error that ends the session mid-call.
func reasonFor(err error) domain.EndReason {
	switch {
	case errors.Is(err, errSend):
		return domain.ReasonSignalingLost
	case errors.Is(err, domain.ErrEngineClosed):
		return domain.ReasonConnectionFailed
	}
	return domain.ReasonNegotiationFailed
}

func (c *Controller) refreshState() {
	if c.ended || !c.joined {
		return
	}
	switch {
	case c.sigLost:
		c.setState(domain.StateReconnecting, domain.CauseSignaling)
	case c.mediaDown:
		c.setState(domain.StateReconnecting, domain.CauseMedia)
	case c.mediaUp:
		c.setState(domain.StateConnected, domain.CauseNone)
	default:
		c.setState(domain.StateNegotiating, domain.CauseNone)
	}
}

func (c *Controller) setState(state domain.SessionState, cause domain.ReconnectCause) {
	if c.snap.State == state && c.snap.Cause == cause {
		return
	}
	c.log.Info().Str("from", string(c.snap.State)).Str("to", string(state)).Str("cause", string(cause)).Msg("session state")
	c.update(func(s *domain.Session) {
		s.State = state
		s.Cause = cause
	})
}

func (c *Controller) update(fn func(*domain.Session)) {
	c.mu.Lock()
	fn(&c.snap)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.mu.RLock()
	fn := c.onState
	c.mu.RUnlock()
	if fn != nil {
		fn(c.Snapshot())
	}
}

func (c *Controller) elapsedLocked() time.Duration {
	d := c.elapsedBase
	if !c.connectedAt.IsZero() {
		d += c.clock.Now().Sub(c.connectedAt)
	}
	return d
}

func (c *Controller) startClock() {
	c.mu.Lock()
	c.connectedAt = c.clock.Now()
	c.mu.Unlock()
	c.ticker = c.clock.Ticker(time.Second)
}

func (c *Controller) stopClock() {
	c.mu.Lock()
	c.elapsedBase = c.elapsedLocked()
	c.connectedAt = time.Time{}
	c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) replyJoin(err error) {
	if c.joinReply != nil {
		c.joinReply <- err
		c.joinReply = nil
	}
}

// end is the single teardown path: engine, media, subscription, relay, in
// that order, before the outcome becomes visible.
func (c *Controller) end(reason domain.EndReason, cause error) {
	if c.ended {
		return
	}
	c.ended = true
	c.cancel()
	c.stopGrace()
	c.stopSignalingTimer()
	if c.mediaUp {
		c.stopClock()
	}

	if c.engine != nil {
		c.engine.Close()
	}
	if c.local != nil {
		c.local.Release()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LeaveTimeout)
		if err := c.transport.Leave(ctx); err != nil {
			c.log.Debug().Err(err).Msg("leave")
		}
		cancel()
	}
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
	}

	c.mu.Lock()
	c.snap.State = domain.StateEnded
	c.snap.Cause = domain.CauseNone
	c.snap.EndReason = reason
	c.snap.EndedAt = c.clock.Now()
	if cause != nil {
		c.snap.Err = cause.Error()
	}
	c.mu.Unlock()

	ev := c.log.Info()
	if cause != nil {
		ev = c.log.Warn().Err(cause)
	}
	ev.Str("reason", string(reason)).Msg("session ended")

	if c.claimed {
		c.registry.Release(c.snap.Key, c)
		telemetry.SessionEnded(c.cfg.Role, reason, c.Snapshot().ElapsedSeconds)
	}
	if cause == nil {
		cause = domain.ErrSessionEnded
	}
	c.replyJoin(cause)
	c.notify()
}
