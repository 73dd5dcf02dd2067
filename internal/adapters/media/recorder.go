package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
	Close() error
}

// Recorder dumps remote tracks to disk: Opus into .ogg, VP8 into .ivf.
type Recorder struct {
	dir    string
	prefix string
	log    zerolog.Logger

	mu    sync.Mutex
	files []string
	wg    sync.WaitGroup
}

func NewRecorder(dir, prefix string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		prefix: prefix,
		log:    log.With().Str("module", "recorder").Str("dir", dir).Logger(),
	}, nil
}

// HandleTrack matches the session's remote track callback. It returns once
// the writer is set up; the track is drained on its own goroutine.
func (r *Recorder) HandleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	w, path, err := r.open(track.Codec().MimeType, track.ID())
	if err != nil {
		r.log.Warn().Err(err).Str("track", track.ID()).Msg("not recording track")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		n := r.copy(track, w)
		r.log.Info().Str("file", path).Int("packets", n).Msg("recording finished")
	}()
}

func (r *Recorder) open(mime, id string) (rtpWriter, string, error) {
	var (
		w   rtpWriter
		err error
		ext string
	)
	base := r.prefix + "-" + sanitize(id)
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		ext = ".ogg"
		w, err = oggwriter.New(filepath.Join(r.dir, base+ext), 48000, 2)
	case strings.ToLower(webrtc.MimeTypeVP8):
		ext = ".ivf"
		w, err = ivfwriter.New(filepath.Join(r.dir, base+ext))
	default:
		return nil, "", fmt.Errorf("unsupported codec %q", mime)
	}
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(r.dir, base+ext)
	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()
	r.log.Info().Str("file", path).Str("codec", mime).Msg("recording track")
	return w, path, nil
}

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

func (r *Recorder) copy(src rtpSource, w rtpWriter) int {
	defer func() {
		if err := w.Close(); err != nil {
			r.log.Debug().Err(err).Msg("close writer")
		}
	}()
	n := 0
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			return n
		}
		if err := w.WriteRTP(pkt); err != nil {
			r.log.Warn().Err(err).Msg("write rtp")
			return n
		}
		n++
	}
}

// Wait blocks until every recorded track has ended.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
