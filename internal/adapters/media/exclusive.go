package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

var errDeviceBusy = errors.New("capture device held by another session")

// Exclusive lets one acquisition of the wrapped source be live at a time.
type Exclusive struct {
	src  core.MediaSource
	held *atomic.Bool
}

var _ core.MediaSource = (*Exclusive)(nil)

func NewExclusive(src core.MediaSource) *Exclusive {
	return &Exclusive{src: src, held: atomic.NewBool(false)}
}

func (e *Exclusive) Acquire(ctx context.Context, c core.Constraints) (core.LocalMedia, error) {
	if !e.held.CompareAndSwap(false, true) {
		log.Warn().Str("module", "media").Msg("capture device busy")
		return nil, domain.NewMediaError(domain.MediaDeviceUnavailable, errDeviceBusy)
	}
	m, err := e.src.Acquire(ctx, c)
	if err != nil {
		e.held.Store(false)
		return nil, err
	}
	h := &heldMedia{inner: m, free: func() { e.held.Store(false) }}
	if p, ok := m.(core.CodecPopulator); ok {
		return &heldPopulator{heldMedia: h, populator: p}, nil
	}
	return h, nil
}

// Held reports whether an acquisition is live.
func (e *Exclusive) Held() bool { return e.held.Load() }

type heldMedia struct {
	inner core.LocalMedia
	free  func()
	once  sync.Once
}

func (h *heldMedia) Tracks() []webrtc.TrackLocal { return h.inner.Tracks() }

func (h *heldMedia) SetEnabled(kind domain.MediaKind, enabled bool) {
	h.inner.SetEnabled(kind, enabled)
}

func (h *heldMedia) Release() {
	h.once.Do(func() {
		h.inner.Release()
		h.free()
	})
}

type heldPopulator struct {
	*heldMedia
	populator core.CodecPopulator
}

func (h *heldPopulator) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	return h.populator.PopulateMediaEngine(me)
}
