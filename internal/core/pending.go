package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/gammazero/deque"
)

// PendingCandidates holds remote candidates that arrived before the remote
// description of the current round. Not safe for concurrent use.
type PendingCandidates struct {
	q *deque.Deque[domain.ICECandidate]
}

func NewPendingCandidates() *PendingCandidates {
	return &PendingCandidates{q: deque.New[domain.ICECandidate]()}
}

func (p *PendingCandidates) Push(c domain.ICECandidate) {
	p.q.PushBack(c)
}

func (p *PendingCandidates) Len() int { return p.q.Len() }

// Drain hands every queued candidate to apply in arrival order and leaves
// the queue empty. A failing candidate does not stop the rest; all failures
// are returned joined.
func (p *PendingCandidates) Drain(apply func(domain.ICECandidate) error) error {
	var errs []error
	for p.q.Len() > 0 {
		c := p.q.PopFront()
		if err := apply(c); err != nil {
			errs = append(errs, fmt.Errorf("candidate %q: %w", c.Candidate, err))
		}
	}
	return errors.Join(errs...)
}

// Clear drops queued candidates of an abandoned round.
func (p *PendingCandidates) Clear() {
	p.q.Clear()
}
