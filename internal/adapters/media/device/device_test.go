package device

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("open /dev/video0: %w", os.ErrPermission), domain.ErrPermissionDenied},
		{errors.New("Operation not allowed"), domain.ErrPermissionDenied},
		{errors.New("failed to find the best driver that fits the constraints"), domain.ErrDeviceUnavailable},
		{fmt.Errorf("stat: %w", os.ErrNotExist), domain.ErrDeviceUnavailable},
		{errors.New("device or resource busy"), domain.ErrDeviceUnavailable},
		{errors.New("encoder exploded"), domain.ErrMediaUnknown},
	}
	for _, c := range cases {
		got := classify(c.err)
		require.ErrorIs(t, got, c.want, "%v", c.err)
		require.ErrorIs(t, got, c.err)
	}

	me := domain.NewMediaError(domain.MediaDeviceUnavailable, nil)
	require.Same(t, me, classify(fmt.Errorf("wrapped: %w", me)))
	require.Nil(t, classify(nil))
}
