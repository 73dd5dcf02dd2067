// Package device captures the local camera and microphone.
package device

import (
	"errors"
	"os"
	"strings"

	"github.com/dkeye/Consult/internal/domain"
)

// classify maps a capture driver failure onto a media error kind.
func classify(err error) *domain.MediaError {
	if err == nil {
		return nil
	}
	var me *domain.MediaError
	if errors.As(err, &me) {
		return me
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return domain.NewMediaError(domain.MediaPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist), strings.Contains(msg, "not found"),
		strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such device"),
		strings.Contains(msg, "busy"):
		return domain.NewMediaError(domain.MediaDeviceUnavailable, err)
	}
	return domain.NewMediaError(domain.MediaUnknown, err)
}
