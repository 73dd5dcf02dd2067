package telemetry

import (
	"sync"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const namespace = "consult"

var (
	sessionCurrent atomic.Int32
	roomCurrent    atomic.Int32
	memberCurrent  atomic.Int32

	promSessionCurrent   prometheus.Gauge
	promSessionEnded     *prometheus.CounterVec
	promSessionDuration  *prometheus.HistogramVec
	promNegotiation      *prometheus.CounterVec
	promReconnect        *prometheus.CounterVec
	promRoomCurrent      prometheus.Gauge
	promMemberCurrent    prometheus.Gauge
	promSignalsForwarded *prometheus.CounterVec

	initOnce sync.Once
)

func init() {
	promSessionCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "total",
	})
	promSessionEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "ended_total",
	}, []string{"role", "reason"})
	promSessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "connected_seconds",
		Buckets:   []float64{5, 30, 60, 5 * 60, 10 * 60, 20 * 60, 30 * 60, 60 * 60, 2 * 60 * 60},
	}, []string{"role"})
	promNegotiation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "negotiation",
		Name:      "events_total",
	}, []string{"role", "event"})
	promReconnect = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnect_total",
	}, []string{"role", "cause", "result"})
	promRoomCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "rooms",
	})
	promMemberCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "members",
	})
	promSignalsForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "signals_total",
	}, []string{"result"})
}

// Register adds the collectors to reg once per process. Metrics are recorded
// whether or not they are registered.
func Register(reg prometheus.Registerer) {
	initOnce.Do(func() {
		reg.MustRegister(
			promSessionCurrent,
			promSessionEnded,
			promSessionDuration,
			promNegotiation,
			promReconnect,
			promRoomCurrent,
			promMemberCurrent,
			promSignalsForwarded,
		)
	})
}

// Negotiation events.
const (
	NegotiationOffer     = "offer"
	NegotiationAnswer    = "answer"
	NegotiationCompleted = "completed"
	NegotiationQueued    = "queued"
	NegotiationYielded   = "collision_yielded"
	NegotiationIgnored   = "collision_ignored"
	NegotiationRetry     = "retry"
	NegotiationFailed    = "failed"
)

func NegotiationEvent(role domain.Role, event string) {
	promNegotiation.WithLabelValues(string(role), event).Inc()
}

func SessionStarted() {
	promSessionCurrent.Set(float64(sessionCurrent.Inc()))
}

func SessionEnded(role domain.Role, reason domain.EndReason, connectedSeconds int64) {
	promSessionCurrent.Set(float64(sessionCurrent.Dec()))
	promSessionEnded.WithLabelValues(string(role), string(reason)).Inc()
	if connectedSeconds > 0 {
		promSessionDuration.WithLabelValues(string(role)).Observe(float64(connectedSeconds))
	}
}

func Reconnect(role domain.Role, cause domain.ReconnectCause, recovered bool) {
	result := "lost"
	if recovered {
		result = "recovered"
	}
	promReconnect.WithLabelValues(string(role), string(cause), result).Inc()
}

func RoomStarted() { promRoomCurrent.Set(float64(roomCurrent.Inc())) }
func RoomEnded()   { promRoomCurrent.Set(float64(roomCurrent.Dec())) }

func MemberJoined() { promMemberCurrent.Set(float64(memberCurrent.Inc())) }
func MemberLeft()   { promMemberCurrent.Set(float64(memberCurrent.Dec())) }

func SignalForwarded(delivered bool) {
	if delivered {
		promSignalsForwarded.WithLabelValues("delivered").Inc()
		return
	}
	promSignalsForwarded.WithLabelValues("dropped").Inc()
}
