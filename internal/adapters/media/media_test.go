package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestSyntheticAcquire(t *testing.T) {
	src := NewSynthetic("")
	m, err := src.Acquire(context.Background(), core.Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	tracks := m.Tracks()
	require.Len(t, tracks, 2)
	require.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	require.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	require.Equal(t, "consult", tracks[0].StreamID())

	sm := m.(*SyntheticMedia)
	m.SetEnabled(domain.MediaVideo, false)
	require.False(t, sm.Enabled(domain.MediaVideo))
	require.True(t, sm.Enabled(domain.MediaAudio))

	m.Release()
	m.Release()
}

func TestSyntheticAudioOnly(t *testing.T) {
	m, err := NewSynthetic("s").Acquire(context.Background(), core.Constraints{Audio: true})
	require.NoError(t, err)
	defer m.Release()
	require.Len(t, m.Tracks(), 1)
}

func TestSyntheticFailures(t *testing.T) {
	_, err := NewSynthetic("").Acquire(context.Background(), core.Constraints{})
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSynthetic("").Acquire(ctx, core.Constraints{Audio: true})
	require.ErrorIs(t, err, domain.ErrMediaUnknown)
	require.ErrorIs(t, err, context.Canceled)
}

type populatingMedia struct{ released int }

func (m *populatingMedia) Tracks() []webrtc.TrackLocal                   { return nil }
func (m *populatingMedia) SetEnabled(domain.MediaKind, bool)             {}
func (m *populatingMedia) Release()                                      { m.released++ }
func (m *populatingMedia) PopulateMediaEngine(*webrtc.MediaEngine) error { return nil }

type stubSource struct {
	m   core.LocalMedia
	err error
}

func (s stubSource) Acquire(context.Context, core.Constraints) (core.LocalMedia, error) {
	return s.m, s.err
}

func TestExclusiveAllowsOneLiveAcquisition(t *testing.T) {
	inner := &populatingMedia{}
	ex := NewExclusive(stubSource{m: inner})

	m, err := ex.Acquire(context.Background(), core.Constraints{Audio: true})
	require.NoError(t, err)
	require.True(t, ex.Held())
	_, ok := m.(core.CodecPopulator)
	require.True(t, ok, "codec population passes through")

	_, err = ex.Acquire(context.Background(), core.Constraints{Audio: true})
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	m.Release()
	m.Release()
	require.Equal(t, 1, inner.released)
	require.False(t, ex.Held())

	m, err = ex.Acquire(context.Background(), core.Constraints{Audio: true})
	require.NoError(t, err)
	m.Release()
}

func TestExclusiveFreesOnFailure(t *testing.T) {
	denied := domain.NewMediaError(domain.MediaPermissionDenied, errors.New("no"))
	ex := NewExclusive(stubSource{err: denied})

	_, err := ex.Acquire(context.Background(), core.Constraints{Video: true})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	require.False(t, ex.Held())
}

func TestExclusiveHidesPopulatorWhenAbsent(t *testing.T) {
	m, err := NewExclusive(NewSynthetic("")).Acquire(context.Background(), core.Constraints{Audio: true})
	require.NoError(t, err)
	defer m.Release()
	_, ok := m.(core.CodecPopulator)
	require.False(t, ok)
}

type packets struct{ left []*rtp.Packet }

func (p *packets) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(p.left) == 0 {
		return nil, nil, io.EOF
	}
	pkt := p.left[0]
	p.left = p.left[1:]
	return pkt, nil, nil
}

func TestRecorderWritesOgg(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "doctor")
	require.NoError(t, err)

	w, path, err := r.open(webrtc.MimeTypeOpus, "audio/0")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "doctor-audio_0.ogg"), path)

	src := &packets{}
	for i := 0; i < 3; i++ {
		src.left = append(src.left, &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: opusSilence,
		})
	}
	require.Equal(t, 3, r.copy(src, w))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
	require.Equal(t, []string{path}, r.Files())
}

func TestRecorderOpensIVFForVP8(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), "patient")
	require.NoError(t, err)
	w, path, err := r.open("video/vp8", "video")
	require.NoError(t, err)
	require.Equal(t, ".ivf", filepath.Ext(path))
	require.NoError(t, w.Close())
}

func TestRecorderRejectsUnknownCodec(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), "x")
	require.NoError(t, err)
	_, _, err = r.open(webrtc.MimeTypeH264, "video")
	require.Error(t, err)
	require.Empty(t, r.Files())
}
