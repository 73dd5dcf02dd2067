package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type localSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Engine wraps one pion PeerConnection with an explicit offer/answer state
// machine and a queue for candidates that arrive ahead of their description.
type Engine struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	pending       *core.PendingCandidates
	remoteApplied bool
	senders       map[domain.MediaKind][]localSender
	closed        *atomic.Bool

	mu             sync.RWMutex
	onCandidate    func(domain.ICECandidate)
	onConnectivity func(domain.ConnectivityState)
	onTrack        func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

var _ core.PeerEngine = (*Engine)(nil)

func NewEngine(cfg Config, m core.LocalMedia, tag string) (*Engine, error) {
	api, err := cfg.newAPI(m)
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(cfg.configuration())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		pc:      pc,
		log:     log.With().Str("module", "webrtc").Str("peer", tag).Logger(),
		pending: core.NewPendingCandidates(),
		senders: make(map[domain.MediaKind][]localSender),
		closed:  atomic.NewBool(false),
	}
	e.start()
	return e, nil
}

func (e *Engine) start() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.log.Info().Str("ice_state", s.String()).Msg("ICE state")
		if e.closed.Load() {
			return
		}
		e.mu.RLock()
		fn := e.onConnectivity
		e.mu.RUnlock()
		if fn != nil {
			fn(connectivity(s))
		}
	})

	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || e.closed.Load() {
			return
		}
		e.mu.RLock()
		fn := e.onCandidate
		e.mu.RUnlock()
		if fn != nil {
			fn(fromInit(c.ToJSON()))
		}
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		e.mu.RLock()
		fn := e.onTrack
		e.mu.RUnlock()
		if fn != nil {
			fn(track, receiver)
		}
	})
}

// AttachLocalTracks adds the tracks of m and a receive-only transceiver for
// every kind m does not send, so offers always carry audio and video lines.
func (e *Engine) AttachLocalTracks(m core.LocalMedia) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	var tracks []webrtc.TrackLocal
	if m != nil {
		tracks = m.Tracks()
	}
	for _, t := range tracks {
		sender, err := e.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		kind := mediaKind(t.Kind())
		e.senders[kind] = append(e.senders[kind], localSender{sender: sender, track: t})
		go drainRTCP(sender)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if len(e.senders[mediaKind(kind)]) > 0 {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	e.log.Info().Int("tracks", len(tracks)).Msg("local tracks attached")
	return nil
}

// drainRTCP keeps interceptors fed until the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (e *Engine) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	if e.closed.Load() {
		return domain.SessionDescription{}, domain.ErrEngineClosed
	}
	if st := e.SignalingState(); st != domain.SignalingStable {
		return domain.SessionDescription{}, fmt.Errorf("%w: create offer in %s", domain.ErrInvalidNegotiationState, st)
	}
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
		e.remoteApplied = false
		e.pending.Clear()
	}
	offer, err := e.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: set local offer: %v", domain.ErrInvalidDescription, err)
	}
	e.log.Debug().Bool("ice_restart", iceRestart).Msg("local offer applied")
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (e *Engine) ApplyRemoteDescription(sd domain.SessionDescription) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	st := e.SignalingState()
	var typ webrtc.SDPType
	switch sd.Type {
	case domain.SDPOffer:
		if st != domain.SignalingStable {
			return fmt.Errorf("%w: remote offer in %s", domain.ErrInvalidNegotiationState, st)
		}
		typ = webrtc.SDPTypeOffer
	case domain.SDPAnswer:
		if st != domain.SignalingHaveLocalOffer {
			return fmt.Errorf("%w: remote answer in %s", domain.ErrInvalidNegotiationState, st)
		}
		typ = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("%w: type %q", domain.ErrInvalidDescription, sd.Type)
	}

	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sd.SDP}); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", domain.ErrInvalidDescription, sd.Type, err)
	}
	e.remoteApplied = true
	e.log.Debug().Str("type", string(sd.Type)).Int("queued", e.pending.Len()).Msg("remote description applied")

	if err := e.pending.Drain(e.addCandidate); err != nil {
		e.log.Warn().Err(err).Msg("queued candidates rejected")
	}
	return nil
}

func (e *Engine) CreateAnswerAndApply() (domain.SessionDescription, error) {
	if e.closed.Load() {
		return domain.SessionDescription{}, domain.ErrEngineClosed
	}
	if st := e.SignalingState(); st != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("%w: create answer in %s", domain.ErrInvalidNegotiationState, st)
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: create answer: %v", domain.ErrInvalidDescription, err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: set local answer: %v", domain.ErrInvalidDescription, err)
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

// Rollback returns a have-local-offer connection to stable. pion needs the
// pending offer text to roll it back.
func (e *Engine) Rollback() error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	if st := e.SignalingState(); st != domain.SignalingHaveLocalOffer {
		return fmt.Errorf("%w: rollback in %s", domain.ErrInvalidNegotiationState, st)
	}
	pending := e.pc.PendingLocalDescription()
	if pending == nil {
		return fmt.Errorf("%w: no pending local offer", domain.ErrInvalidNegotiationState)
	}
	if err := e.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	}); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	e.log.Info().Msg("local offer rolled back")
	return nil
}

// AddICECandidate applies c, or queues it while the current round has no
// remote description. An empty candidate marks end of candidates.
func (e *Engine) AddICECandidate(c domain.ICECandidate) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	if c.Candidate == "" {
		return nil
	}
	if !e.remoteApplied || e.pc.RemoteDescription() == nil {
		e.pending.Push(c)
		return nil
	}
	return e.addCandidate(c)
}

func (e *Engine) addCandidate(c domain.ICECandidate) error {
	return e.pc.AddICECandidate(toInit(c))
}

// SetTrackEnabled swaps the sender's track out and back in. The m-line stays,
// so no renegotiation is needed.
func (e *Engine) SetTrackEnabled(kind domain.MediaKind, enabled bool) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	var errs []error
	for _, s := range e.senders[kind] {
		var t webrtc.TrackLocal
		if enabled {
			t = s.track
		}
		if err := s.sender.ReplaceTrack(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) SignalingState() domain.SignalingState {
	if e.closed.Load() {
		return domain.SignalingClosed
	}
	return signalingState(e.pc.SignalingState())
}

func (e *Engine) PendingCandidates() int { return e.pending.Len() }

func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.pending.Clear()
	if err := e.pc.Close(); err != nil {
		e.log.Error().Err(err).Msg("close error")
		return
	}
	e.log.Info().Msg("closed")
}

func (e *Engine) OnICECandidate(fn func(domain.ICECandidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Engine) OnConnectivityChange(fn func(domain.ConnectivityState)) {
	e.mu.Lock()
	e.onConnectivity = fn
	e.mu.Unlock()
}

func (e *Engine) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

func toInit(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func fromInit(i webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:     i.Candidate,
		SDPMid:        i.SDPMid,
		SDPMLineIndex: i.SDPMLineIndex,
	}
}

func mediaKind(k webrtc.RTPCodecType) domain.MediaKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func signalingState(s webrtc.SignalingState) domain.SignalingState {
	switch s {
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveRemotePranswer:
		return domain.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveLocalPranswer:
		return domain.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return domain.SignalingClosed
	}
	return domain.SignalingStable
}

func connectivity(s webrtc.ICEConnectionState) domain.ConnectivityState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return domain.ConnectivityChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.ConnectivityConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ConnectivityDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ConnectivityFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ConnectivityClosed
	}
	return domain.ConnectivityNew
}
