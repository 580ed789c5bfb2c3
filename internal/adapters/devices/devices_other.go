//go:build !linux || !cgo

package devices

import (
	"context"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Devices is a placeholder on platforms without a capture driver; every
// acquisition fails, which the call core reports as a device error.
type Devices struct{}

var _ core.MediaDevices = (*Devices)(nil)

func New() (*Devices, error) { return &Devices{}, nil }

func (d *Devices) Codecs(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }

func (d *Devices) UserMedia(context.Context, domain.CallKind) ([]core.LocalTrack, error) {
	return nil, ErrUnsupported
}

func (d *Devices) DisplayMedia(context.Context) (core.LocalTrack, error) {
	return nil, ErrUnsupported
}
