// Package media holds capture sources that need no hardware, plus the
// wrappers every source goes through.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

var (
	// opusSilence is a single Opus frame of digital silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Filler   = []byte{0x0, 0xff, 0xff, 0xff, 0xff}
)

// Synthetic produces placeholder audio and video tracks. It stands in for a
// camera and microphone on headless hosts.
type Synthetic struct {
	StreamID string
}

var _ core.MediaSource = (*Synthetic)(nil)

func NewSynthetic(streamID string) *Synthetic {
	if streamID == "" {
		streamID = "consult"
	}
	return &Synthetic{StreamID: streamID}
}

func (s *Synthetic) Acquire(ctx context.Context, c core.Constraints) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewMediaError(domain.MediaUnknown, err)
	}
	if !c.Audio && !c.Video {
		return nil, domain.NewMediaError(domain.MediaDeviceUnavailable, nil)
	}

	wctx, cancel := context.WithCancel(context.Background())
	m := &SyntheticMedia{
		cancel: cancel,
		log:    log.With().Str("module", "media").Str("source", "synthetic").Logger(),
	}
	if c.Audio {
		if err := m.add(wctx, domain.MediaAudio, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
		}, s.StreamID, opusSilence, audioFrame); err != nil {
			m.Release()
			return nil, domain.NewMediaError(domain.MediaUnknown, err)
		}
	}
	if c.Video {
		if err := m.add(wctx, domain.MediaVideo, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
		}, s.StreamID, vp8Filler, videoFrame); err != nil {
			m.Release()
			return nil, domain.NewMediaError(domain.MediaUnknown, err)
		}
	}
	m.log.Info().Bool("audio", c.Audio).Bool("video", c.Video).Msg("synthetic media acquired")
	return m, nil
}

type syntheticTrack struct {
	kind    domain.MediaKind
	track   *webrtc.TrackLocalStaticSample
	enabled *atomic.Bool
}

// SyntheticMedia writes filler samples on every enabled track until released.
type SyntheticMedia struct {
	tracks []syntheticTrack
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    zerolog.Logger
}

func (m *SyntheticMedia) add(ctx context.Context, kind domain.MediaKind, codec webrtc.RTPCodecCapability, stream string, payload []byte, every time.Duration) error {
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), stream)
	if err != nil {
		return err
	}
	st := syntheticTrack{kind: kind, track: track, enabled: atomic.NewBool(true)}
	m.tracks = append(m.tracks, st)
	m.wg.Add(1)
	go m.write(ctx, st, pionmedia.Sample{Data: payload, Duration: every})
	return nil
}

func (m *SyntheticMedia) write(ctx context.Context, st syntheticTrack, sample pionmedia.Sample) {
	defer m.wg.Done()
	ticker := time.NewTicker(sample.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !st.enabled.Load() {
				continue
			}
			if err := st.track.WriteSample(sample); err != nil {
				m.log.Debug().Err(err).Str("kind", string(st.kind)).Msg("write sample")
			}
		}
	}
}

func (m *SyntheticMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t.track)
	}
	return out
}

func (m *SyntheticMedia) SetEnabled(kind domain.MediaKind, enabled bool) {
	for _, t := range m.tracks {
		if t.kind == kind {
			t.enabled.Store(enabled)
		}
	}
}

// Enabled reports whether samples are being written for kind.
func (m *SyntheticMedia) Enabled(kind domain.MediaKind) bool {
	for _, t := range m.tracks {
		if t.kind == kind {
			return t.enabled.Load()
		}
	}
	return false
}

func (m *SyntheticMedia) Release() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.log.Info().Msg("synthetic media released")
	})
}
