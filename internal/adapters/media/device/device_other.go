//go:build !linux

package device

import (
	"context"
	"errors"

	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
)

// Source reports every device as unavailable: capture drivers exist for
// Linux only. Use the synthetic source elsewhere.
type Source struct{}

var _ core.MediaSource = (*Source)(nil)

func NewSource() *Source { return &Source{} }

func (*Source) Acquire(context.Context, core.Constraints) (core.LocalMedia, error) {
	return nil, domain.NewMediaError(domain.MediaDeviceUnavailable, errors.New("no capture drivers on this platform"))
}
