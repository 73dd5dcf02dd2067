package negotiation

import (
	"testing"

	"github.com/dkeye/Consult/internal/core/corefakes"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/stretchr/testify/require"
)

// peer is one side of an in-memory call: a coordinator over a fake engine
// whose sent descriptions pile up until the test delivers them.
type peer struct {
	role   domain.Role
	engine *corefakes.FakeEngine
	c      *Coordinator
	out    []domain.SessionDescription
}

func newPeer(t *testing.T, policy Policy) *peer {
	t.Helper()
	p := &peer{role: policy.Local, engine: corefakes.NewFakeEngine(policy.Local.String())}
	p.c = New(p.engine, policy, func(sd domain.SessionDescription) error {
		p.out = append(p.out, sd)
		return nil
	})
	return p
}

// deliverOne hands the oldest outbound description of from to to.
func deliverOne(t *testing.T, from, to *peer) {
	t.Helper()
	require.NotEmpty(t, from.out, "%s has nothing to deliver", from.role)
	sd := from.out[0]
	from.out = from.out[1:]
	require.NoError(t, to.c.HandleDescription(from.role, sd))
}

// settle delivers until both sides are quiet.
func settle(t *testing.T, a, b *peer) {
	t.Helper()
	for i := 0; len(a.out)+len(b.out) > 0; i++ {
		require.Less(t, i, 20, "negotiation did not converge")
		if len(a.out) > 0 {
			deliverOne(t, a, b)
		}
		if len(b.out) > 0 {
			deliverOne(t, b, a)
		}
	}
}

func defaultPair(t *testing.T) (*peer, *peer) {
	doctor := newPeer(t, NewPolicy(domain.RoleDoctor, domain.RoleDoctor, domain.RolePatient))
	patient := newPeer(t, NewPolicy(domain.RolePatient, domain.RoleDoctor, domain.RolePatient))
	return doctor, patient
}

func requireStable(t *testing.T, peers ...*peer) {
	t.Helper()
	for _, p := range peers {
		require.Equal(t, domain.SignalingStable, p.engine.SignalingState(), "%s", p.role)
	}
}

func TestPolicy(t *testing.T) {
	doctor := NewPolicy(domain.RoleDoctor, domain.RoleDoctor, domain.RolePatient)
	patient := NewPolicy(domain.RolePatient, domain.RoleDoctor, domain.RolePatient)

	require.True(t, doctor.Initiates())
	require.False(t, doctor.Polite)
	require.False(t, patient.Initiates())
	require.True(t, patient.Polite)

	yes, no := true, false
	require.False(t, doctor.yields(&yes))
	require.True(t, patient.yields(&no))
	require.False(t, doctor.yields(&no), "tie goes to role")
	require.True(t, patient.yields(&yes), "tie goes to role")
	require.False(t, doctor.yields(nil))
	require.True(t, patient.yields(nil))
}

func TestHappyPathOfferAnswer(t *testing.T) {
	doctor, patient := defaultPair(t)

	require.NoError(t, doctor.c.RenegotiationNeeded())
	require.Len(t, doctor.out, 1)
	require.Equal(t, domain.SDPOffer, doctor.out[0].Type)
	require.Equal(t, domain.SignalingHaveLocalOffer, doctor.engine.SignalingState())

	deliverOne(t, doctor, patient)
	require.Len(t, patient.out, 1)
	require.Equal(t, domain.SDPAnswer, patient.out[0].Type)

	deliverOne(t, patient, doctor)
	requireStable(t, doctor, patient)
	require.Equal(t, 1, doctor.c.Rounds())
	require.Equal(t, 1, patient.c.Rounds())
}

// glare makes both sides offer, then delivers the crossing offers.
func glare(t *testing.T, doctor, patient *peer, doctorFirst bool) {
	t.Helper()
	require.NoError(t, doctor.c.RenegotiationNeeded())
	require.NoError(t, patient.c.RenegotiationNeeded())
	require.Equal(t, domain.SignalingHaveLocalOffer, doctor.engine.SignalingState())
	require.Equal(t, domain.SignalingHaveLocalOffer, patient.engine.SignalingState())

	if doctorFirst {
		deliverOne(t, patient, doctor)
		deliverOne(t, doctor, patient)
	} else {
		deliverOne(t, doctor, patient)
		deliverOne(t, patient, doctor)
	}
	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
}

func TestGlareOnlyOnePeerYields(t *testing.T) {
	for _, tc := range []struct {
		name          string
		doctorFirst   bool
		patientPolite bool
		doctorPolite  bool
		doctorYields  bool
	}{
		{name: "default roles, offer to doctor first", doctorFirst: true, patientPolite: true},
		{name: "default roles, offer to patient first", patientPolite: true},
		{name: "polite doctor yields", doctorFirst: true, doctorPolite: true, doctorYields: true},
		{name: "polite doctor yields, patient first", doctorPolite: true, doctorYields: true},
		{name: "both impolite", doctorFirst: true},
		{name: "both impolite, patient first"},
		{name: "both polite", doctorFirst: true, patientPolite: true, doctorPolite: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doctor := newPeer(t, Policy{Local: domain.RoleDoctor, Initiator: domain.RoleDoctor, Polite: tc.doctorPolite})
			patient := newPeer(t, Policy{Local: domain.RolePatient, Initiator: domain.RoleDoctor, Polite: tc.patientPolite})

			glare(t, doctor, patient, tc.doctorFirst)

			yielder, keeper := patient, doctor
			if tc.doctorYields {
				yielder, keeper = doctor, patient
			}
			require.Equal(t, 1, yielder.engine.Stats().Rollbacks)
			require.Equal(t, 1, yielder.engine.Stats().Answers)
			require.Zero(t, keeper.engine.Stats().Rollbacks)
			require.Zero(t, keeper.engine.Stats().Answers)
		})
	}
}

func TestGlareWithMismatchedInitiators(t *testing.T) {
	for _, tc := range []struct {
		name          string
		doctor        Policy
		patient       Policy
		patientYields bool
	}{
		{
			name:          "each side believes it initiates",
			doctor:        NewPolicy(domain.RoleDoctor, domain.RoleDoctor, domain.RolePatient),
			patient:       NewPolicy(domain.RolePatient, domain.RolePatient, domain.RoleDoctor),
			patientYields: true,
		},
		{
			name:    "both configured with a polite doctor",
			doctor:  NewPolicy(domain.RoleDoctor, domain.RolePatient, domain.RoleDoctor),
			patient: NewPolicy(domain.RolePatient, domain.RolePatient, domain.RoleDoctor),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, doctorFirst := range []bool{true, false} {
				doctor, patient := newPeer(t, tc.doctor), newPeer(t, tc.patient)
				glare(t, doctor, patient, doctorFirst)

				rollbacks := doctor.engine.Stats().Rollbacks + patient.engine.Stats().Rollbacks
				require.Equal(t, 1, rollbacks)
				if tc.patientYields {
					require.Equal(t, 1, patient.engine.Stats().Rollbacks)
				} else {
					require.Equal(t, 1, doctor.engine.Stats().Rollbacks)
				}
				require.Equal(t, 1, doctor.c.Rounds())
				require.Equal(t, 1, patient.c.Rounds())
			}
		})
	}
}

func TestDuplicateRequestsCollapse(t *testing.T) {
	doctor, patient := defaultPair(t)

	require.NoError(t, doctor.c.RenegotiationNeeded())
	for i := 0; i < 3; i++ {
		require.NoError(t, doctor.c.RenegotiationNeeded())
	}
	require.True(t, doctor.c.Pending())
	require.Len(t, doctor.out, 1)

	deliverOne(t, doctor, patient)
	deliverOne(t, patient, doctor)

	require.False(t, doctor.c.Pending())
	require.Len(t, doctor.out, 1, "exactly one queued offer after stable")
	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
	require.Equal(t, 2, doctor.engine.Stats().Offers)
}

func TestRestartICEQueuedWhileBusy(t *testing.T) {
	doctor, patient := defaultPair(t)

	require.NoError(t, doctor.c.RenegotiationNeeded())
	require.NoError(t, doctor.c.RestartICE())
	require.NoError(t, doctor.c.RenegotiationNeeded())
	settle(t, doctor, patient)

	requireStable(t, doctor, patient)
	stats := doctor.engine.Stats()
	require.Equal(t, 2, stats.Offers)
	require.Equal(t, 1, stats.Restarts)
}

func TestRejectedOfferIsRetriedOnce(t *testing.T) {
	doctor, patient := defaultPair(t)
	patient.engine.FailApply = 1

	require.NoError(t, doctor.c.RenegotiationNeeded())
	deliverOne(t, doctor, patient)

	require.Len(t, patient.out, 1)
	require.Equal(t, domain.SDPAnswer, patient.out[0].Type, "retry applies the offer again")

	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
}

func TestSecondConsecutiveNegotiationErrorIsFatal(t *testing.T) {
	doctor, _ := defaultPair(t)
	doctor.engine.FailOffer = 2

	err := doctor.c.RenegotiationNeeded()
	require.ErrorIs(t, err, domain.ErrNegotiationFailed)
	require.Empty(t, doctor.out)
}

func TestCompletedRoundResetsLoopGuard(t *testing.T) {
	doctor, patient := defaultPair(t)

	doctor.engine.FailOffer = 1
	require.NoError(t, doctor.c.RenegotiationNeeded())
	settle(t, doctor, patient)
	requireStable(t, doctor, patient)

	doctor.engine.FailOffer = 1
	require.NoError(t, doctor.c.RenegotiationNeeded())
	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
}

func TestStaleAnswerInStableIsDropped(t *testing.T) {
	doctor, patient := defaultPair(t)

	for i := 0; i < 2; i++ {
		err := doctor.c.HandleDescription(domain.RolePatient, domain.SessionDescription{Type: domain.SDPAnswer, SDP: "late"})
		require.NoError(t, err)
	}
	require.Empty(t, doctor.out)
	require.Zero(t, doctor.engine.Stats().Offers)
	requireStable(t, doctor)

	require.NoError(t, doctor.c.RenegotiationNeeded())
	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
	require.Equal(t, 1, doctor.c.Rounds())
}

func TestRejectedAnswerStartsFreshRound(t *testing.T) {
	doctor, patient := defaultPair(t)
	doctor.engine.FailApply = 1

	require.NoError(t, doctor.c.RenegotiationNeeded())
	deliverOne(t, doctor, patient)
	deliverOne(t, patient, doctor)

	require.Len(t, doctor.out, 1)
	require.Equal(t, domain.SDPOffer, doctor.out[0].Type)
	require.Equal(t, 1, doctor.engine.Stats().Rollbacks)

	settle(t, doctor, patient)
	requireStable(t, doctor, patient)
	require.Equal(t, 2, doctor.engine.Stats().Offers)
}
