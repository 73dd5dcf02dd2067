package core

import (
	"errors"
	"testing"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	sent   []Frame
	failed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	if c.failed {
		return errors.New("full")
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() {}

func member(t *testing.T, role domain.Role, conn SignalConnection) MemberSession {
	t.Helper()
	p, err := domain.NewParticipant(role)
	require.NoError(t, err)
	return NewMemberSession(domain.NewMember(p, "B1"), conn)
}

func TestRoomAdmitsOneDoctorAndOnePatient(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R1", BookingID: "B1"})

	require.NoError(t, room.AddMember("s1", member(t, domain.RoleDoctor, &fakeConn{})))
	require.ErrorIs(t, room.AddMember("s2", member(t, domain.RoleDoctor, &fakeConn{})), ErrRoleTaken)
	require.NoError(t, room.AddMember("s3", member(t, domain.RolePatient, &fakeConn{})))
	require.ErrorIs(t, room.AddMember("s4", member(t, domain.RolePatient, &fakeConn{})), ErrRoleTaken)
	require.Equal(t, 2, room.MemberCount())

	room.RemoveMember("s1")
	require.Equal(t, 1, room.MemberCount())
	require.NoError(t, room.AddMember("s5", member(t, domain.RoleDoctor, &fakeConn{})))
}

func TestRoomBroadcastSkipsSender(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "R1"})
	doctor := &fakeConn{}
	patient := &fakeConn{}
	require.NoError(t, room.AddMember("d", member(t, domain.RoleDoctor, doctor)))
	require.NoError(t, room.AddMember("p", member(t, domain.RolePatient, patient)))

	res := room.Broadcast("d", Frame(`{"event":"signal"}`))
	require.Equal(t, 1, res.SendTo)
	require.Empty(t, doctor.sent)
	require.Len(t, patient.sent, 1)

	patient.failed = true
	res = room.Broadcast("d", Frame(`{}`))
	require.Zero(t, res.SendTo)
	require.Len(t, res.Dropped, 1)
}
