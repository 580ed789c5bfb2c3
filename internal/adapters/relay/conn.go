package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// wsConn is the server side of one participant's websocket.
type wsConn struct {
	id   domain.ParticipantID
	conn *websocket.Conn
	send chan core.Frame

	strikes atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func newWSConn(id domain.ParticipantID, ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Str("participant", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "relay").Str("participant", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump feeds frames to handle until the socket fails. Client pings
// extend the read deadline.
func (c *wsConn) readPump(ctx context.Context, readLimit int64, idle time.Duration, handle func(*wsConn, []byte)) {
	defer func() {
		log.Info().Str("module", "relay").Str("participant", string(c.id)).Msg("readPump closing")
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		handle(c, data)
	}
}
