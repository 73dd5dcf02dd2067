package orch

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/Consult/internal/app"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []core.Frame
	full bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return domain.ErrBackpressure
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type harness struct {
	o        *Orchestrator
	canceled map[core.SessionID]bool
}

func newHarness() *harness {
	return &harness{
		o: &Orchestrator{
			Registry: app.NewRegistry(),
			Rooms:    app.NewRoomManager(),
			Policy:   app.SimplePolicy{},
		},
		canceled: make(map[core.SessionID]bool),
	}
}

func (h *harness) bind(t *testing.T, sid core.SessionID, role domain.Role) *fakeConn {
	return h.bindAs(t, sid, role, string(role)+"-caller")
}

func (h *harness) bindAs(t *testing.T, sid core.SessionID, role domain.Role, identity string) *fakeConn {
	t.Helper()
	p, err := domain.NewParticipant(role)
	require.NoError(t, err)
	conn := &fakeConn{}
	meta := domain.NewMember(p, "B1")
	meta.Identity = identity
	_, cancel := context.WithCancel(context.Background())
	h.o.Registry.BindSignal(sid, core.NewMemberSession(meta, conn), func() {
		h.canceled[sid] = true
		cancel()
	})
	return conn
}

func TestJoinReportsRolesPresent(t *testing.T) {
	h := newHarness()
	h.bind(t, "d", domain.RoleDoctor)
	h.bind(t, "p", domain.RolePatient)

	peers, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)
	require.Equal(t, []domain.Role{domain.RoleDoctor}, peers)

	peers, err = h.o.Join("p", "R1", "B1")
	require.NoError(t, err)
	require.Equal(t, []domain.Role{domain.RoleDoctor, domain.RolePatient}, peers)

	again, err := h.o.Join("p", "R1", "B1")
	require.NoError(t, err)
	require.Equal(t, peers, again)
}

func TestJoinUnknownSession(t *testing.T) {
	h := newHarness()
	_, err := h.o.Join("ghost", "R1", "B1")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestJoinRejectsOtherBooking(t *testing.T) {
	h := newHarness()
	h.bind(t, "d", domain.RoleDoctor)
	h.bind(t, "p", domain.RolePatient)
	_, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)

	_, err = h.o.Join("p", "R1", "B2")
	require.ErrorIs(t, err, domain.ErrJoinRejected)
	_, _, ok := h.o.Registry.RoomOf("p")
	require.False(t, ok)
}

func TestNewerConnectionReplacesRole(t *testing.T) {
	h := newHarness()
	h.bind(t, "d1", domain.RoleDoctor)
	h.bind(t, "d2", domain.RoleDoctor)
	_, err := h.o.Join("d1", "R1", "B1")
	require.NoError(t, err)

	peers, err := h.o.Join("d2", "R1", "B1")
	require.NoError(t, err)
	require.Equal(t, []domain.Role{domain.RoleDoctor}, peers)
	require.True(t, h.canceled["d1"])
	_, _, ok := h.o.Registry.RoomOf("d1")
	require.False(t, ok)
}

func TestOnFrameReachesRoomMateOnly(t *testing.T) {
	h := newHarness()
	doctor := h.bind(t, "d", domain.RoleDoctor)
	patient := h.bind(t, "p", domain.RolePatient)

	require.False(t, h.o.OnFrame("d", core.Frame(`{}`)), "not in a room")

	_, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)
	require.False(t, h.o.OnFrame("d", core.Frame(`{}`)), "alone in room")

	_, err = h.o.Join("p", "R1", "B1")
	require.NoError(t, err)
	require.True(t, h.o.OnFrame("d", core.Frame(`{"event":"signal"}`)))
	require.Equal(t, 1, patient.count())
	require.Zero(t, doctor.count())
}

func TestSlowMemberIsKicked(t *testing.T) {
	h := newHarness()
	h.bind(t, "d", domain.RoleDoctor)
	patient := h.bind(t, "p", domain.RolePatient)
	_, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)
	_, err = h.o.Join("p", "R1", "B1")
	require.NoError(t, err)

	patient.full = true
	require.False(t, h.o.OnFrame("d", core.Frame(`{}`)))
	require.True(t, h.canceled["p"])
	_, _, ok := h.o.Registry.RoomOf("p")
	require.False(t, ok)
}

func TestLeaveStopsEmptyRoom(t *testing.T) {
	h := newHarness()
	h.bind(t, "d", domain.RoleDoctor)
	h.bind(t, "p", domain.RolePatient)
	_, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)
	_, err = h.o.Join("p", "R1", "B1")
	require.NoError(t, err)

	room, ok := h.o.Leave("d")
	require.True(t, ok)
	require.Equal(t, domain.RoomID("R1"), room)
	_, ok = h.o.Rooms.Get("R1")
	require.True(t, ok, "patient still inside")

	h.o.Disconnect("p")
	_, ok = h.o.Rooms.Get("R1")
	require.False(t, ok)
	require.Equal(t, 1, h.o.Registry.Len(), "only the doctor stays bound")

	_, ok = h.o.Leave("d")
	require.False(t, ok)
}

func TestEvictRoomCancelsMembers(t *testing.T) {
	h := newHarness()
	h.bind(t, "d", domain.RoleDoctor)
	h.bind(t, "p", domain.RolePatient)
	_, err := h.o.Join("d", "R1", "B1")
	require.NoError(t, err)
	_, err = h.o.Join("p", "R1", "B1")
	require.NoError(t, err)

	h.o.EvictRoom("R1")
	require.True(t, h.canceled["d"])
	require.True(t, h.canceled["p"])
	require.Empty(t, h.o.Rooms.List())
}

func TestOtherCallerCannotTakeRole(t *testing.T) {
	h := newHarness()
	h.bindAs(t, "d1", domain.RoleDoctor, "alice")
	h.bindAs(t, "d2", domain.RoleDoctor, "mallory")
	_, err := h.o.Join("d1", "R1", "B1")
	require.NoError(t, err)

	_, err = h.o.Join("d2", "R1", "B1")
	require.ErrorIs(t, err, domain.ErrRoomFull)
	require.False(t, h.canceled["d1"])
	_, _, ok := h.o.Registry.RoomOf("d1")
	require.True(t, ok)
}

func TestSeatHeldOutsideRegistryIsFull(t *testing.T) {
	h := newHarness()
	room := h.o.Rooms.GetOrCreate("R1", "B1")
	p, err := domain.NewParticipant(domain.RolePatient)
	require.NoError(t, err)
	require.NoError(t, room.AddMember("ghost", core.NewMemberSession(domain.NewMember(p, "B1"), &fakeConn{})))
	h.bind(t, "x", domain.RolePatient)

	_, err = h.o.Join("x", "R1", "B1")
	require.ErrorIs(t, err, domain.ErrRoomFull)
	_, ok := h.o.Rooms.Get("R1")
	require.True(t, ok)
}
