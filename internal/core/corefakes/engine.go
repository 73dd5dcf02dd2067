package corefakes

import (
	"fmt"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// FakeEngine is an in-memory offer/answer state machine with the same
// transition rules as the pion engine.
type FakeEngine struct {
	Name    string
	Journal *Journal

	mu            sync.Mutex
	state         domain.SignalingState
	offers        int
	answers       int
	rollbacks     int
	restarts      int
	remoteApplied bool
	pending       *core.PendingCandidates
	applied       []domain.ICECandidate
	enabled       map[domain.MediaKind]bool
	attached      bool
	closed        int

	FailApply int
	FailOffer int

	onCandidate    func(domain.ICECandidate)
	onConnectivity func(domain.ConnectivityState)
}

var _ core.PeerEngine = (*FakeEngine)(nil)

func NewFakeEngine(name string) *FakeEngine {
	return &FakeEngine{
		Name:    name,
		state:   domain.SignalingStable,
		pending: core.NewPendingCandidates(),
		enabled: map[domain.MediaKind]bool{domain.MediaAudio: true, domain.MediaVideo: true},
	}
}

// Factory returns an EngineFactory that hands out e once.
func (e *FakeEngine) Factory() core.EngineFactory {
	return func(core.LocalMedia) (core.PeerEngine, error) { return e, nil }
}

func (e *FakeEngine) AttachLocalTracks(core.LocalMedia) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attached = true
	return nil
}

func (e *FakeEngine) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.SessionDescription{}, domain.ErrEngineClosed
	}
	if e.FailOffer > 0 {
		e.FailOffer--
		return domain.SessionDescription{}, fmt.Errorf("%w: injected", domain.ErrInvalidDescription)
	}
	if e.state != domain.SignalingStable {
		return domain.SessionDescription{}, fmt.Errorf("%w: offer in %s", domain.ErrInvalidNegotiationState, e.state)
	}
	if iceRestart {
		e.restarts++
		e.remoteApplied = false
		e.pending.Clear()
	}
	e.offers++
	e.state = domain.SignalingHaveLocalOffer
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("%s-offer-%d", e.Name, e.offers)}, nil
}

func (e *FakeEngine) ApplyRemoteDescription(sd domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.ErrEngineClosed
	}
	switch {
	case sd.Type == domain.SDPOffer && e.state == domain.SignalingStable:
		if err := e.injectedApplyFailure(); err != nil {
			return err
		}
		e.state = domain.SignalingHaveRemoteOffer
	case sd.Type == domain.SDPAnswer && e.state == domain.SignalingHaveLocalOffer:
		if err := e.injectedApplyFailure(); err != nil {
			return err
		}
		e.state = domain.SignalingStable
	default:
		return fmt.Errorf("%w: remote %s in %s", domain.ErrInvalidNegotiationState, sd.Type, e.state)
	}
	e.remoteApplied = true
	return e.pending.Drain(func(c domain.ICECandidate) error {
		e.applied = append(e.applied, c)
		return nil
	})
}

func (e *FakeEngine) injectedApplyFailure() error {
	if e.FailApply > 0 {
		e.FailApply--
		return fmt.Errorf("%w: injected", domain.ErrInvalidDescription)
	}
	return nil
}

func (e *FakeEngine) CreateAnswerAndApply() (domain.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.SessionDescription{}, domain.ErrEngineClosed
	}
	if e.state != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("%w: answer in %s", domain.ErrInvalidNegotiationState, e.state)
	}
	e.answers++
	e.state = domain.SignalingStable
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("%s-answer-%d", e.Name, e.answers)}, nil
}

func (e *FakeEngine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.SignalingHaveLocalOffer {
		return fmt.Errorf("%w: rollback in %s", domain.ErrInvalidNegotiationState, e.state)
	}
	e.rollbacks++
	e.state = domain.SignalingStable
	return nil
}

func (e *FakeEngine) AddICECandidate(c domain.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.ErrEngineClosed
	}
	if !e.remoteApplied {
		e.pending.Push(c)
		return nil
	}
	e.applied = append(e.applied, c)
	return nil
}

func (e *FakeEngine) SetTrackEnabled(kind domain.MediaKind, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.ErrEngineClosed
	}
	e.enabled[kind] = enabled
	return nil
}

func (e *FakeEngine) SignalingState() domain.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return domain.SignalingClosed
	}
	return e.state
}

func (e *FakeEngine) PendingCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Len()
}

func (e *FakeEngine) Close() {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	e.Journal.Record("engine.close")
}

func (e *FakeEngine) OnICECandidate(fn func(domain.ICECandidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *FakeEngine) OnConnectivityChange(fn func(domain.ConnectivityState)) {
	e.mu.Lock()
	e.onConnectivity = fn
	e.mu.Unlock()
}

func (e *FakeEngine) OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

// EmitConnectivity fires the connectivity handler as the transport would.
func (e *FakeEngine) EmitConnectivity(s domain.ConnectivityState) {
	e.mu.Lock()
	fn := e.onConnectivity
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitCandidate fires the local candidate handler.
func (e *FakeEngine) EmitCandidate(c domain.ICECandidate) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Offers, Answers, Rollbacks, Restarts, Closed int
	Attached                                     bool
	Applied                                      []domain.ICECandidate
	Enabled                                      map[domain.MediaKind]bool
}

func (e *FakeEngine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	enabled := make(map[domain.MediaKind]bool, len(e.enabled))
	for k, v := range e.enabled {
		enabled[k] = v
	}
	return Stats{
		Offers:    e.offers,
		Answers:   e.answers,
		Rollbacks: e.rollbacks,
		Restarts:  e.restarts,
		Closed:    e.closed,
		Attached:  e.attached,
		Applied:   append([]domain.ICECandidate(nil), e.applied...),
		Enabled:   enabled,
	}
}
