//go:build linux

package device

import (
	"context"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const videoBitRate = 1_500_000

// Source captures through V4L2 and the system audio backend, encoding VP8
// and Opus.
type Source struct {
	log zerolog.Logger
}

var _ core.MediaSource = (*Source)(nil)

func NewSource() *Source {
	return &Source{log: log.With().Str("module", "media").Str("source", "device").Logger()}
}

type captured struct {
	tracks []mediadevices.Track
	err    error
}

// Acquire opens the devices. The driver call cannot be interrupted, so a
// cancelled ctx returns at once and the late tracks are closed when they
// arrive.
func (s *Source) Acquire(ctx context.Context, c core.Constraints) (core.LocalMedia, error) {
	selector, err := newSelector()
	if err != nil {
		return nil, domain.NewMediaError(domain.MediaUnknown, err)
	}
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, domain.NewMediaError(domain.MediaDeviceUnavailable, nil)
	}
	for _, d := range devices {
		s.log.Debug().Interface("kind", d.Kind).Str("label", d.Label).Msg("media device")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if c.MaxWidth > 0 {
				mc.Width = prop.IntRanged{Max: c.MaxWidth}
			}
			if c.MaxHeight > 0 {
				mc.Height = prop.IntRanged{Max: c.MaxHeight}
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	done := make(chan captured, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			done <- captured{err: err}
			return
		}
		done <- captured{tracks: stream.GetTracks()}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			me := classify(res.err)
			s.log.Warn().Err(res.err).Str("kind", string(me.Kind)).Msg("capture failed")
			return nil, me
		}
		m := &Media{tracks: res.tracks, selector: selector, enabled: map[domain.MediaKind]bool{}, log: s.log}
		for _, t := range res.tracks {
			m.enabled[kindOf(t)] = true
			t.OnEnded(func(err error) {
				if err != nil {
					s.log.Warn().Err(err).Str("track", t.ID()).Msg("local track ended")
				}
			})
		}
		s.log.Info().Int("tracks", len(res.tracks)).Msg("devices acquired")
		return m, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				closeAll(res.tracks)
			}
		}()
		return nil, domain.NewMediaError(domain.MediaUnknown, ctx.Err())
	}
}

func newSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = videoBitRate
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// Media is a captured camera/microphone pair.
type Media struct {
	tracks   []mediadevices.Track
	selector *mediadevices.CodecSelector
	log      zerolog.Logger

	mu      sync.Mutex
	enabled map[domain.MediaKind]bool
	once    sync.Once
}

var (
	_ core.LocalMedia     = (*Media)(nil)
	_ core.CodecPopulator = (*Media)(nil)
)

func (m *Media) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

// SetEnabled only records the flag: the encoder keeps running and the peer
// engine detaches the track from its sender.
func (m *Media) SetEnabled(kind domain.MediaKind, enabled bool) {
	m.mu.Lock()
	m.enabled[kind] = enabled
	m.mu.Unlock()
}

func (m *Media) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	m.selector.Populate(me)
	return nil
}

func (m *Media) Release() {
	m.once.Do(func() {
		closeAll(m.tracks)
		m.log.Info().Msg("devices released")
	})
}

func closeAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		_ = t.Close()
	}
}

func kindOf(t mediadevices.Track) domain.MediaKind {
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func (m *Media) Enabled(kind domain.MediaKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}
