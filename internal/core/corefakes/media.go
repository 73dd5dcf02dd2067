package corefakes

import (
	"context"
	"sync"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Journal records teardown steps across fakes in call order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) Record(s string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type FakeMedia struct {
	Journal *Journal

	mu       sync.Mutex
	released int
	enabled  map[domain.MediaKind]bool
}

var _ core.LocalMedia = (*FakeMedia)(nil)

func NewFakeMedia() *FakeMedia {
	return &FakeMedia{enabled: map[domain.MediaKind]bool{domain.MediaAudio: true, domain.MediaVideo: true}}
}

func (m *FakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *FakeMedia) SetEnabled(kind domain.MediaKind, enabled bool) {
	m.mu.Lock()
	m.enabled[kind] = enabled
	m.mu.Unlock()
}

func (m *FakeMedia) Enabled(kind domain.MediaKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

func (m *FakeMedia) Release() {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	m.Journal.Record("media.release")
}

func (m *FakeMedia) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// FakeMediaSource hands out Media, or Err. A non-nil Gate blocks Acquire
// until it is closed or ctx ends, like a pending permission prompt.
// Stubborn ignores ctx, like a driver call that cannot be interrupted.
type FakeMediaSource struct {
	Media    *FakeMedia
	Err      error
	Gate     chan struct{}
	Stubborn bool

	mu       sync.Mutex
	acquired int
}

var _ core.MediaSource = (*FakeMediaSource)(nil)

func (s *FakeMediaSource) Acquire(ctx context.Context, _ core.Constraints) (core.LocalMedia, error) {
	if s.Gate != nil && s.Stubborn {
		<-s.Gate
	} else if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, domain.NewMediaError(domain.MediaUnknown, ctx.Err())
		}
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Media, nil
}

func (s *FakeMediaSource) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}
