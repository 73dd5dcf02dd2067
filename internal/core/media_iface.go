package core

import (
	"context"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Constraints select what a MediaSource captures.
type Constraints struct {
	Audio     bool
	Video     bool
	MaxWidth  int
	MaxHeight int
}

// MediaSource opens local capture. Acquire may block on a permission prompt
// and must honour ctx cancellation. Failures are *domain.MediaError.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (LocalMedia, error)
}

// LocalMedia is a set of acquired capture tracks.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// SetEnabled pauses or resumes a capture pipeline without dropping it.
	SetEnabled(kind domain.MediaKind, enabled bool)
	// Release closes the hardware. Only the session teardown calls it.
	Release()
}

// CodecPopulator is implemented by media whose encoders dictate the codecs
// the peer connection must offer.
type CodecPopulator interface {
	PopulateMediaEngine(me *webrtc.MediaEngine) error
}
