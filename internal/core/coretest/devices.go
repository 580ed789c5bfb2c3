// Package coretest provides in-memory implementations of the core ports
// for tests.
package coretest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Track struct {
	id      string
	kind    domain.MediaKind
	source  domain.TrackSource
	enabled atomic.Bool
	stops   atomic.Int32
	local   webrtc.TrackLocal
}

func NewTrack(id string, kind domain.MediaKind, source domain.TrackSource) *Track {
	mime := webrtc.MimeTypeOpus
	if kind == domain.MediaVideo {
		mime = webrtc.MimeTypeVP8
	}
	t := &Track{id: id, kind: kind, source: source}
	t.enabled.Store(true)
	if local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local"); err == nil {
		t.local = local
	}
	return t
}

func (t *Track) ID() string                 { return t.id }
func (t *Track) Kind() domain.MediaKind     { return t.kind }
func (t *Track) Source() domain.TrackSource { return t.source }
func (t *Track) SetEnabled(v bool)          { t.enabled.Store(v) }
func (t *Track) Enabled() bool              { return t.enabled.Load() }
func (t *Track) Track() webrtc.TrackLocal   { return t.local }

func (t *Track) Stop() error {
	t.stops.Add(1)
	return nil
}

func (t *Track) Stops() int    { return int(t.stops.Load()) }
func (t *Track) Stopped() bool { return t.stops.Load() > 0 }

var _ core.LocalTrack = (*Track)(nil)

// Devices hands out fresh tracks and remembers every one it opened.
type Devices struct {
	mu sync.Mutex
	// Err fails UserMedia; ScreenErr fails DisplayMedia.
	Err       error
	ScreenErr error
	// Gate, when set, blocks UserMedia until it is closed or ctx is done.
	Gate   chan struct{}
	opened []*Track
	n      int
}

func (d *Devices) UserMedia(ctx context.Context, kind domain.CallKind) ([]core.LocalTrack, error) {
	d.mu.Lock()
	gate, err := d.Gate, d.Err
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err != nil {
		return nil, err
	}

	out := []core.LocalTrack{d.open(domain.MediaAudio, domain.SourceMicrophone)}
	if kind == domain.KindVideo {
		out = append(out, d.open(domain.MediaVideo, domain.SourceCamera))
	}
	return out, nil
}

func (d *Devices) DisplayMedia(context.Context) (core.LocalTrack, error) {
	d.mu.Lock()
	err := d.ScreenErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.open(domain.MediaVideo, domain.SourceScreen), nil
}

func (d *Devices) open(kind domain.MediaKind, src domain.TrackSource) *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	t := NewTrack(string(src)+"-"+strconv.Itoa(d.n), kind, src)
	d.opened = append(d.opened, t)
	return t
}

func (d *Devices) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.opened...)
}

// Live counts opened tracks that were never stopped.
func (d *Devices) Live() int {
	n := 0
	for _, t := range d.Opened() {
		if !t.Stopped() {
			n++
		}
	}
	return n
}
