package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Consult/internal/adapters/relayclient"
	"github.com/dkeye/Consult/internal/app"
	"github.com/dkeye/Consult/internal/app/orch"
	"github.com/dkeye/Consult/internal/config"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type events struct {
	mu  sync.Mutex
	evs []core.RelayEvent
}

func (e *events) add(ev core.RelayEvent) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *events) find(kind core.RelayEventKind) (core.RelayEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.evs {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return core.RelayEvent{}, false
}

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  1 << 16,
		PingPeriod: time.Minute,
		Relay: config.RelayConfig{
			JoinLimit:    5,
			JoinInterval: 10 * time.Second,
			SendBuffer:   16,
		},
	}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, prometheus.NewRegistry()))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func dialRelay(t *testing.T, srv *httptest.Server, token string, role domain.Role) (*relayclient.Client, *events) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	c := relayclient.New(relayclient.Config{URL: url, PingPeriod: time.Hour})
	t.Cleanup(func() { _ = c.Close() })
	evs := &events{}
	c.Subscribe(evs.add)
	require.NoError(t, c.Connect(context.Background(), token, role))
	return c, evs
}

func TestRelayPairsDoctorAndPatient(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	doctor, doctorEvents := dialRelay(t, srv, "doc-token", domain.RoleDoctor)
	require.NoError(t, doctor.Join(ctx, "R1", "B1"))
	_, ok := doctorEvents.find(core.RelayPeerJoined)
	require.False(t, ok, "nobody else is in the room yet")

	patient, patientEvents := dialRelay(t, srv, "pat-token", domain.RolePatient)
	require.NoError(t, patient.Join(ctx, "R1", "B1"))

	ev, ok := patientEvents.find(core.RelayPeerJoined)
	require.True(t, ok)
	require.Equal(t, domain.RoleDoctor, ev.Role)
	require.Eventually(t, func() bool {
		ev, ok := doctorEvents.find(core.RelayPeerJoined)
		return ok && ev.Role == domain.RolePatient
	}, waitFor, 10*time.Millisecond)

	mid := "0"
	cand := domain.NewCandidateSignal("R1", domain.RoleDoctor, domain.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid})
	require.NoError(t, doctor.Send(cand))
	require.Eventually(t, func() bool {
		_, ok := patientEvents.find(core.RelaySignal)
		return ok
	}, waitFor, 10*time.Millisecond)
	got, _ := patientEvents.find(core.RelaySignal)
	require.Equal(t, cand, got.Signal)

	leaveCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, patient.Leave(leaveCtx))
	require.Eventually(t, func() bool {
		ev, ok := doctorEvents.find(core.RelayPeerLeft)
		return ok && ev.Role == domain.RolePatient
	}, waitFor, 10*time.Millisecond)
}

func TestRelayRejectsForeignBookingAndRole(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	doctor, _ := dialRelay(t, srv, "doc-token", domain.RoleDoctor)
	require.NoError(t, doctor.Join(ctx, "R1", "B1"))

	patient, _ := dialRelay(t, srv, "pat-token", domain.RolePatient)
	require.ErrorIs(t, patient.Join(ctx, "R1", "B2"), domain.ErrJoinRejected)

	impostor, _ := dialRelay(t, srv, "other-token", domain.RoleDoctor)
	require.ErrorIs(t, impostor.Join(ctx, "R1", "B1"), domain.ErrRoomFull)
}

func TestRelayRequiresCredentials(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := nethttp.Get(srv.URL + "/api/ws/signal?role=doctor")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	resp2, err := nethttp.Get(srv.URL + "/api/ws/signal?role=nurse&token=t")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp2.StatusCode)
}

func TestRoomsEndpoints(t *testing.T) {
	srv, o := newServer(t)
	doctor, _ := dialRelay(t, srv, "doc-token", domain.RoleDoctor)
	require.NoError(t, doctor.Join(context.Background(), "R1", "B1"))

	resp, err := nethttp.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var body RoomsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []core.RoomInfo{{ID: "R1", BookingID: "B1", MemberCount: 1}}, body.Rooms)

	req, err := nethttp.NewRequest(nethttp.MethodDelete, srv.URL+"/api/rooms/R1", nil)
	require.NoError(t, err)
	del, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, nethttp.StatusNoContent, del.StatusCode)
	require.Empty(t, o.Rooms.List())

	del, err = nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, nethttp.StatusNotFound, del.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newServer(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := nethttp.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, nethttp.StatusOK, resp.StatusCode, path)
	}
}
