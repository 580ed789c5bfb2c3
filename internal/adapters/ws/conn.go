// Package ws is the client side of the signaling channel over gorilla/websocket.
package ws

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("signal connection closed")
	ErrNotConnected = errors.New("signal connection not established")
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
	recvBuffer = 64
)

type Options struct {
	URL         string
	Participant domain.ParticipantID
	PingPeriod  time.Duration
	ReadLimit   int64
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// OnStatus is the initial status callback; OnStatus replaces it.
	OnStatus func(up bool)
}

func (o *Options) defaults() {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 10 * time.Second
	}
}

// Conn keeps one websocket to the relay open, redialing with backoff.
// It implements core.SignalConnection and core.StatusNotifier.
type Conn struct {
	opts   Options
	dialer *websocket.Dialer
	target string

	send chan core.Frame
	recv chan core.Frame

	mu       sync.Mutex
	up       bool
	closed   bool
	onStatus func(bool)

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ core.SignalConnection = (*Conn)(nil)
	_ core.StatusNotifier   = (*Conn)(nil)
)

// Dial starts the connection loop and returns immediately; TrySend fails
// with ErrNotConnected until the first dial succeeds.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.defaults()
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("participant", string(opts.Participant))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		target:   u.String(),
		send:     make(chan core.Frame, sendBuffer),
		recv:     make(chan core.Frame, recvBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		onStatus: opts.OnStatus,
	}
	go c.run(ctx)
	return c, nil
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.up {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Receive() <-chan core.Frame { return c.recv }

func (c *Conn) OnStatus(fn func(up bool)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Close stops redialing and closes the receive channel once the loop exits.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	<-c.done
}

func (c *Conn) setUp(up bool) {
	c.mu.Lock()
	if c.up == up {
		c.mu.Unlock()
		return
	}
	c.up = up
	fn := c.onStatus
	c.mu.Unlock()
	log.Info().Str("module", "ws").Str("participant", string(c.opts.Participant)).Bool("up", up).Msg("signaling status")
	if fn != nil {
		fn(up)
	}
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.recv)

	backoff := c.opts.MinBackoff
	for {
		ws, _, err := c.dialer.DialContext(ctx, c.target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("module", "ws").Err(err).Dur("retry_in", backoff).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.MinBackoff
		c.serve(ctx, ws)
		c.setUp(false)
		if ctx.Err() != nil {
			return
		}
	}
}

// serve pumps one websocket until it breaks or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ws.SetReadLimit(c.opts.ReadLimit)
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(connCtx, ws)
	}()
	c.setUp(true)

	c.readPump(connCtx, ws)
	cancel()
	_ = ws.Close()
	<-writerDone
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = ws.Close()
			return
		case data := <-c.send:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				_ = ws.Close()
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		select {
		case c.recv <- core.Frame(data):
		case <-ctx.Done():
			return
		}
	}
}
