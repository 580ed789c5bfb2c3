// Package media owns the local capture tracks of one call session.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/rs/zerolog/log"
)

type Toggle string

const (
	ToggleMute        Toggle = "mute"
	ToggleCamera      Toggle = "camera"
	ToggleScreenShare Toggle = "screen-share"
)

// Result reports the device state after one toggle resolved.
type Result struct {
	Toggle        Toggle
	Muted         bool
	CameraOn      bool
	ScreenSharing bool
	// Video is set when the outgoing video source changed and links
	// must swap their sender and renegotiate. It is nil otherwise.
	Video         core.LocalTrack
	SourceChanged bool
	Stream        *domain.Stream
	Err           error
}

var ErrReleased = errors.New("local media released")

// Controller is created per session. Toggles resolve one at a time in
// issue order on a worker goroutine; Release stops every track once.
type Controller struct {
	devices core.MediaDevices

	mu       sync.Mutex
	kind     domain.CallKind
	audio    core.LocalTrack
	camera   core.LocalTrack
	screen   core.LocalTrack
	revision uint64
	acquired bool
	released bool

	qmu     sync.Mutex
	queue   []request
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

type request struct {
	ctx    context.Context
	toggle Toggle
	reply  func(Result)
}

func New(devices core.MediaDevices) *Controller {
	c := &Controller{
		devices: devices,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.worker()
	return c
}

// Acquire opens the microphone, plus the camera for video calls. Tracks
// opened after ctx is cancelled or after Release are stopped right away.
func (c *Controller) Acquire(ctx context.Context, kind domain.CallKind) (*domain.Stream, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrReleased
	}
	if c.acquired {
		s := c.streamLocked()
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	tracks, err := c.devices.UserMedia(ctx, kind)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.DeviceError{Kind: kind, Err: err}
	}

	c.mu.Lock()
	if c.released || ctx.Err() != nil {
		c.mu.Unlock()
		stopAll(tracks)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrReleased
	}
	for _, t := range tracks {
		switch t.Kind() {
		case domain.MediaAudio:
			c.audio = t
		case domain.MediaVideo:
			c.camera = t
		}
	}
	if c.audio == nil && (kind == domain.KindAudio || c.camera == nil) {
		c.mu.Unlock()
		stopAll(tracks)
		return nil, &domain.DeviceError{Kind: kind, Err: errors.New("no audio track")}
	}
	c.kind = kind
	c.acquired = true
	c.revision = 1
	s := c.streamLocked()
	c.mu.Unlock()

	log.Info().Str("module", "app.media").Str("kind", string(kind)).Int("tracks", len(tracks)).Msg("local media acquired")
	return s, nil
}

// Release stops every held track. Later calls are no-ops.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	tracks := []core.LocalTrack{c.audio, c.camera, c.screen}
	c.audio, c.camera, c.screen = nil, nil, nil
	c.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	n := stopAll(tracks)
	log.Info().Str("module", "app.media").Int("stopped", n).Msg("local media released")
}

func (c *Controller) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Toggle queues t behind every toggle issued before it. reply is invoked
// from the worker goroutine.
func (c *Controller) Toggle(ctx context.Context, t Toggle, reply func(Result)) {
	c.qmu.Lock()
	if c.stopped {
		c.qmu.Unlock()
		if reply != nil {
			go reply(Result{Toggle: t, Err: ErrReleased})
		}
		return
	}
	c.queue = append(c.queue, request{ctx: ctx, toggle: t, reply: reply})
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) Stream() *domain.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired || c.released {
		return nil
	}
	return c.streamLocked()
}

// Tracks lists the tracks links should send, in audio, video order.
func (c *Controller) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.LocalTrack
	if c.audio != nil {
		out = append(out, c.audio)
	}
	if v := c.videoLocked(); v != nil {
		out = append(out, v)
	}
	return out
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio == nil || !c.audio.Enabled()
}

func (c *Controller) CameraOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera != nil && c.camera.Enabled()
}

func (c *Controller) worker() {
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.qmu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				c.drain()
				return
			}
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		res := c.apply(req.ctx, req.toggle)
		if req.reply != nil {
			req.reply(res)
		}
	}
}

// drain answers toggles still queued at release time.
func (c *Controller) drain() {
	c.qmu.Lock()
	pending := c.queue
	c.queue = nil
	c.stopped = true
	c.qmu.Unlock()
	for _, req := range pending {
		if req.reply != nil {
			req.reply(Result{Toggle: req.toggle, Err: ErrReleased})
		}
	}
}

func (c *Controller) apply(ctx context.Context, t Toggle) Result {
	switch t {
	case ToggleMute:
		return c.flip(t, func() core.LocalTrack { return c.audio })
	case ToggleCamera:
		return c.flip(t, func() core.LocalTrack { return c.camera })
	case ToggleScreenShare:
		return c.toggleScreen(ctx)
	}
	return Result{Toggle: t, Err: fmt.Errorf("unknown toggle %q", t)}
}

func (c *Controller) flip(t Toggle, pick func() core.LocalTrack) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || !c.acquired {
		return Result{Toggle: t, Err: ErrReleased}
	}
	track := pick()
	if track == nil {
		return c.resultLocked(t, domain.ErrNoLocalMedia)
	}
	track.SetEnabled(!track.Enabled())
	c.revision++
	return c.resultLocked(t, nil)
}

func (c *Controller) toggleScreen(ctx context.Context) Result {
	c.mu.Lock()
	if c.released || !c.acquired {
		c.mu.Unlock()
		return Result{Toggle: ToggleScreenShare, Err: ErrReleased}
	}
	if c.screen != nil {
		old := c.screen
		c.screen = nil
		c.revision++
		res := c.resultLocked(ToggleScreenShare, nil)
		res.SourceChanged = true
		res.Video = c.camera
		c.mu.Unlock()
		_ = old.Stop()
		log.Info().Str("module", "app.media").Msg("screen share stopped")
		return res
	}
	c.mu.Unlock()

	screen, err := c.devices.DisplayMedia(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.resultLocked(ToggleScreenShare, &domain.DeviceError{Kind: domain.KindVideo, Err: err})
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		_ = screen.Stop()
		return Result{Toggle: ToggleScreenShare, Err: ErrReleased}
	}
	c.screen = screen
	c.revision++
	res := c.resultLocked(ToggleScreenShare, nil)
	res.SourceChanged = true
	res.Video = screen
	c.mu.Unlock()
	log.Info().Str("module", "app.media").Str("track", screen.ID()).Msg("screen share started")
	return res
}

func (c *Controller) videoLocked() core.LocalTrack {
	if c.screen != nil {
		return c.screen
	}
	return c.camera
}

func (c *Controller) resultLocked(t Toggle, err error) Result {
	return Result{
		Toggle:        t,
		Muted:         c.audio == nil || !c.audio.Enabled(),
		CameraOn:      c.camera != nil && c.camera.Enabled(),
		ScreenSharing: c.screen != nil,
		Stream:        c.streamLocked(),
		Err:           err,
	}
}

func (c *Controller) streamLocked() *domain.Stream {
	s := &domain.Stream{ID: "local", Owner: domain.LocalID, Revision: c.revision}
	for _, t := range []core.LocalTrack{c.audio, c.videoLocked()} {
		if t == nil {
			continue
		}
		s.Tracks = append(s.Tracks, domain.TrackRef{
			ID:      t.ID(),
			Kind:    t.Kind(),
			Source:  t.Source(),
			Enabled: t.Enabled(),
			Handle:  t.Track(),
		})
	}
	return s
}

func stopAll(tracks []core.LocalTrack) int {
	n := 0
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Stop(); err != nil {
			log.Warn().Str("module", "app.media").Err(err).Str("track", t.ID()).Msg("stop track")
		}
		n++
	}
	return n
}
