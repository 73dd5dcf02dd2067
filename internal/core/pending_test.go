package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/stretchr/testify/require"
)

func cand(i int) domain.ICECandidate {
	return domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000 typ host", i, i)}
}

func TestPendingCandidatesDrainInArrivalOrder(t *testing.T) {
	p := NewPendingCandidates()
	for i := 1; i <= 5; i++ {
		p.Push(cand(i))
	}
	require.Equal(t, 5, p.Len())

	var applied []string
	err := p.Drain(func(c domain.ICECandidate) error {
		applied = append(applied, c.Candidate)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())
	require.Len(t, applied, 5)
	for i, c := range applied {
		require.Equal(t, cand(i+1).Candidate, c)
	}

	// a second drain applies nothing
	calls := 0
	require.NoError(t, p.Drain(func(domain.ICECandidate) error { calls++; return nil }))
	require.Zero(t, calls)
}

func TestPendingCandidatesDrainContinuesAfterFailure(t *testing.T) {
	p := NewPendingCandidates()
	for i := 1; i <= 3; i++ {
		p.Push(cand(i))
	}
	boom := errors.New("boom")
	var seen int
	err := p.Drain(func(c domain.ICECandidate) error {
		seen++
		if c.Candidate == cand(2).Candidate {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, seen)
	require.Zero(t, p.Len())
}

func TestPendingCandidatesClear(t *testing.T) {
	p := NewPendingCandidates()
	p.Push(cand(1))
	p.Push(cand(2))
	p.Clear()
	require.Zero(t, p.Len())
	p.Push(cand(3))
	var got []string
	require.NoError(t, p.Drain(func(c domain.ICECandidate) error {
		got = append(got, c.Candidate)
		return nil
	}))
	require.Equal(t, []string{cand(3).Candidate}, got)
}
