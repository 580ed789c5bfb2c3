//go:build linux && cgo

package devices

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Devices captures through pion/mediadevices: V4L2 camera, malgo
// microphone and X11 screen, encoded as VP8 and Opus.
type Devices struct {
	selector *mediadevices.CodecSelector
}

var _ core.MediaDevices = (*Devices)(nil)

func New() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	d := &Devices{selector: mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)}
	for _, info := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "devices").Str("kind", fmt.Sprint(info.Kind)).Str("label", info.Label).Msg("media device")
	}
	return d, nil
}

// Codecs registers the encoders' codecs; pass it as rtc.Options.Codecs.
func (d *Devices) Codecs(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

func (d *Devices) UserMedia(ctx context.Context, kind domain.CallKind) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if kind == domain.KindVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}

	var out []core.LocalTrack
	for _, t := range stream.GetTracks() {
		src, mk := domain.SourceMicrophone, domain.MediaAudio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			src, mk = domain.SourceCamera, domain.MediaVideo
		}
		out = append(out, wrap(t, mk, src))
	}
	return out, nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("display capture returned no video track")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	return wrap(tracks[0], domain.MediaVideo, domain.SourceScreen), nil
}

// gatedTrack is what peer connections bind to. Disabling it drops the
// encoded packets instead of renegotiating.
type gatedTrack struct {
	mediadevices.Track
	enabled *atomic.Bool
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return g.Track.Bind(gatedContext{TrackLocalContext: ctx, enabled: g.enabled})
}

type localTrack struct {
	kind    domain.MediaKind
	source  domain.TrackSource
	enabled atomic.Bool
	gated   *gatedTrack

	stopOnce sync.Once
	stopErr  error
}

func wrap(t mediadevices.Track, kind domain.MediaKind, src domain.TrackSource) *localTrack {
	lt := &localTrack{kind: kind, source: src}
	lt.enabled.Store(true)
	lt.gated = &gatedTrack{Track: t, enabled: &lt.enabled}
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Str("module", "devices").Str("track", t.ID()).Err(err).Msg("local track ended")
		}
	})
	return lt
}

func (t *localTrack) ID() string                 { return t.gated.ID() }
func (t *localTrack) Kind() domain.MediaKind     { return t.kind }
func (t *localTrack) Source() domain.TrackSource { return t.source }
func (t *localTrack) SetEnabled(v bool)          { t.enabled.Store(v) }
func (t *localTrack) Enabled() bool              { return t.enabled.Load() }
func (t *localTrack) Track() webrtc.TrackLocal   { return t.gated }

func (t *localTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.stopErr = t.gated.Close()
	})
	return t.stopErr
}
