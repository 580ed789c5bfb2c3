// Package relay is a development signaling relay: it forwards call
// messages between connected participants and inspects nothing beyond the
// envelope.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Recorder receives relay traffic counters.
type Recorder interface {
	Connected()
	Disconnected()
	Routed(msgType string)
	Dropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Connected()     {}
func (nopRecorder) Disconnected()  {}
func (nopRecorder) Routed(string)  {}
func (nopRecorder) Dropped(string) {}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// InviteLimit ring invites per InviteWindow and sender. Offers riding
	// on invites are not limited.
	InviteLimit  int
	InviteWindow time.Duration
	Policy       Policy
	Metrics      Recorder
}

type Hub struct {
	opts    Options
	limiter *RateLimiter

	mu    sync.RWMutex
	conns map[domain.ParticipantID]*wsConn
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewHub(opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.InviteLimit <= 0 {
		opts.InviteLimit = 10
	}
	if opts.InviteWindow <= 0 {
		opts.InviteWindow = time.Minute
	}
	if opts.Policy == nil {
		opts.Policy = SimplePolicy{MaxStrikes: 64}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	return &Hub{
		opts:    opts,
		limiter: NewRateLimiter(opts.InviteLimit, opts.InviteWindow),
		conns:   make(map[domain.ParticipantID]*wsConn),
	}
}

// HandleSignal upgrades the request and serves it as participant id. A
// newer connection for the same id replaces the older one.
func (h *Hub) HandleSignal(ctx context.Context, c *gin.Context, id domain.ParticipantID) {
	log.Info().Str("module", "relay").Str("participant", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	conn := newWSConn(id, ws)
	h.attach(conn)

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx)
	go func() {
		defer cancel()
		defer h.detach(conn)
		conn.readPump(ctx, h.opts.ReadLimit, 2*h.opts.PingPeriod, h.handleFrame)
	}()
}

func (h *Hub) attach(c *wsConn) {
	h.mu.Lock()
	old := h.conns[c.id]
	h.conns[c.id] = c
	h.mu.Unlock()
	if old != nil {
		log.Info().Str("module", "relay").Str("participant", string(c.id)).Msg("replacing previous connection")
		old.Close()
	} else {
		h.opts.Metrics.Connected()
	}
}

func (h *Hub) detach(c *wsConn) {
	h.mu.Lock()
	current := h.conns[c.id] == c
	if current {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	if current {
		h.limiter.Forget(c.id)
		h.opts.Metrics.Disconnected()
	}
}

// Participants lists connected participant ids in order.
func (h *Hub) Participants() []domain.ParticipantID {
	h.mu.RLock()
	out := make([]domain.ParticipantID, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	h.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Close disconnects everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[domain.ParticipantID]*wsConn)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) handleFrame(from *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("participant", string(from.id)).Msg("bad json")
		h.opts.Metrics.Dropped("invalid")
		h.replyError(from, "bad_json")
		return
	}
	if env.Type == typePing {
		h.handlePing(from)
		return
	}

	msg, err := signal.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("participant", string(from.id)).Msg("invalid message")
		h.opts.Metrics.Dropped("invalid")
		h.replyError(from, "bad_message")
		return
	}
	if msg.SenderID != from.id {
		log.Warn().Str("module", "relay").Str("participant", string(from.id)).Str("sender", string(msg.SenderID)).Msg("sender mismatch")
		h.opts.Metrics.Dropped("spoofed")
		h.replyError(from, "sender_mismatch")
		return
	}
	if msg.Type == signal.TypeInvite && h.isRing(msg) && !h.limiter.Allow(from.id) {
		log.Warn().Str("module", "relay").Str("participant", string(from.id)).Msg("invite rate limited")
		h.opts.Metrics.Dropped("rate_limited")
		h.replyError(from, "rate_limited")
		return
	}

	if msg.RecipientID != "" {
		h.mu.RLock()
		to, ok := h.conns[msg.RecipientID]
		h.mu.RUnlock()
		if !ok {
			log.Debug().Str("module", "relay").Str("recipient", string(msg.RecipientID)).Msg("recipient not connected")
			h.opts.Metrics.Dropped("unknown_recipient")
			return
		}
		h.deliver(to, data, msg.Type)
		return
	}
	h.broadcast(from, data, msg.Type)
}

func (h *Hub) isRing(msg signal.Message) bool {
	p, err := signal.DecodePayload(msg)
	if err != nil {
		return true
	}
	invite, ok := p.(signal.InvitePayload)
	return ok && invite.OfferDescription == nil
}

func (h *Hub) broadcast(from *wsConn, data []byte, t signal.Type) {
	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != from.id {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if h.deliver(c, data, t) {
			sent++
		}
	}
	log.Debug().Str("module", "relay").Str("from", string(from.id)).Int("sent_to", sent).Int("dropped", len(targets)-sent).Msg("broadcast result")
}

func (h *Hub) deliver(to *wsConn, data []byte, t signal.Type) bool {
	if err := to.TrySend(data); err != nil {
		strikes := int(to.strikes.Add(1))
		h.opts.Metrics.Dropped("backpressure")
		if h.opts.Policy.OnBackpressure(to.id, strikes) == Disconnect {
			log.Warn().Str("module", "relay").Str("participant", string(to.id)).Int("strikes", strikes).Msg("disconnecting slow participant")
			to.Close()
		}
		return false
	}
	to.strikes.Store(0)
	h.opts.Metrics.Routed(string(t))
	return true
}
