// Package devices captures local camera, microphone and screen tracks.
package devices

import (
	"errors"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrUnsupported = errors.New("media capture is not supported on this platform")

// gatedContext hands the encoder a writer that drops packets while the
// track is disabled. Everything else is the peer connection's context.
type gatedContext struct {
	webrtc.TrackLocalContext
	enabled *atomic.Bool
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{w: c.TrackLocalContext.WriteStream(), enabled: c.enabled}
}

type gatedWriter struct {
	w       webrtc.TrackLocalWriter
	enabled *atomic.Bool
}

func (g gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !g.enabled.Load() {
		return len(payload), nil
	}
	return g.w.WriteRTP(header, payload)
}

func (g gatedWriter) Write(b []byte) (int, error) {
	if !g.enabled.Load() {
		return len(b), nil
	}
	return g.w.Write(b)
}
